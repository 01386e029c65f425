package serial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

type widget struct {
	Label string
	Count int
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := &widget{Label: "Ridley", Count: 3}
	data, err := Encode(want)
	require.NoError(t, err)

	got := &widget{}
	require.NoError(t, Decode(data, got))
	assert.Equal(t, want, got)
}

func TestDecodeMalformedDataFailsWithSerializationFormat(t *testing.T) {
	err := Decode([]byte{0xff, 0xff, 0xff}, &widget{})
	assert.ErrorIs(t, err, types.ErrSerializationFormat)
}

func TestEncodeUnencodableValueFailsWithNotSerializable(t *testing.T) {
	fn := func() {}
	_, err := Encode(fn)
	assert.ErrorIs(t, err, types.ErrNotSerializable)
}

func TestRegistryNewReturnsFreshInstancePerCall(t *testing.T) {
	reg := NewRegistry()
	reg.Register("widget@1", func() any { return &widget{} })

	a, err := reg.New("widget@1")
	require.NoError(t, err)
	b, err := reg.New("widget@1")
	require.NoError(t, err)

	aw := a.(*widget)
	bw := b.(*widget)
	aw.Label = "mutated"
	assert.Empty(t, bw.Label)
}

func TestRegistryNewUnknownDescriptorFailsWithSerializationFormat(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.New("nope@1")
	assert.ErrorIs(t, err, types.ErrSerializationFormat)
}

func TestRegistryRegisterOverwritesExistingFactory(t *testing.T) {
	reg := NewRegistry()
	reg.Register("widget@1", func() any { return &widget{Label: "first"} })
	reg.Register("widget@1", func() any { return &widget{Label: "second"} })

	got, err := reg.New("widget@1")
	require.NoError(t, err)
	assert.Equal(t, "second", got.(*widget).Label)
}

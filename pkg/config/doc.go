/*
Package config loads the data service's configuration table (spec §6)
with viper, following the layering pattern (file, then DARKSTAR_-prefixed
environment variables, then defaults) the wider retrieval pack uses viper
for. Load validates the two options spec.md calls out explicitly:
app.name is required, and disconnect.delay may not go below 200ms.
*/
package config

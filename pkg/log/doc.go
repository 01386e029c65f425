/*
Package log provides structured logging for the data service using zerolog.

Trace level corresponds to "finest". The package provides level helpers
and WithComponent/WithTxnID child loggers, which mirror the teacher's
WithNodeID-style child loggers. The operations of pkg/dataservice do not
log their entry, exit or failures; the store and pkg/txctx's Context log
individual steps at trace level.
*/
package log

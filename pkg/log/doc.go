/*
Package log wraps zerolog in a small global-logger convention: Init
configures the process-wide Logger once at startup (level, JSON vs console
format, output writer), and every other package calls WithComponent,
WithRunID, WithTxID, or WithNamespace to get a child logger carrying its own
context fields rather than threading a *zerolog.Logger through every
constructor.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	txLog := log.WithComponent("txn").With().Uint64("tx_id", txID).Logger()
	txLog.Warn().Err(err).Msg("snapshot pool acquire failed")
*/
package log

// Package mqtt wraps the Eclipse Paho client with Cosmo's connection,
// topic, and reliability conventions.
//
// # Topic Contract
//
// All Cosmo traffic lives under the "cosmo/" prefix:
//
//	cosmo/state/{adapter}/{entity_id}   adapter -> core   state reports
//	cosmo/command/{adapter}/{entity_id} core -> adapter   command intents
//	cosmo/ack/{adapter}                 adapter -> core   command acknowledgements
//	cosmo/availability/{adapter}        adapter LWT       adapter presence
//	cosmo/event/state/{entity_id}       core -> observers canonical state events
//	cosmo/system/status                 core LWT          core presence
//
// The Topics type builds these strings; nothing else in the codebase
// formats topics by hand.
//
// # Reliability
//
// The client auto-reconnects with backoff, restores tracked subscriptions
// after a reconnect, and carries a Last Will and Testament so observers
// learn about an unclean core shutdown. Message handlers run with panic
// recovery so a misbehaving payload cannot take down the receive loop.
package mqtt

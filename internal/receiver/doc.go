// Package receiver bridges a push-style acquisition middleware to pull-style
// readers.
//
// A Controller drives one middleware stream through an Adapter. Its worker
// goroutine connects, subscribes and then polls; the adapter invokes the
// controller's callbacks from inside Poll, so every buffer mutation happens
// on that single goroutine. Readers call Events, Messages, Transitions or
// Query from anywhere and never block on the producer.
//
// Lifecycle:
//
//	Created -> Initialized -> Running -> Stopped
//
// Startup failures move the controller straight to Stopped and clear the
// listening flag; callers detect them through IsListening and LastStatus.
package receiver

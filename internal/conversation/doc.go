// Package conversation is the layer between transports and storage.
//
// Every successful AppendMessage does three things, in order, while holding
// a per-conversation gate:
//
//  1. stores the message,
//  2. publishes a KindMessage Event on the conversation's messages channel,
//  3. pushes an Appended signal that the suggestion supervisor consumes.
//
// The call then returns; nothing here waits for suggestion generation.
//
// Event is the one payload type carried by the Bus. The suggestions channel
// carries KindFragment events followed by a single KindDone or KindError
// marker for each run that was not superseded.
package conversation

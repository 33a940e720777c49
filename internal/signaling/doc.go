// Package signaling carries SDP descriptions and trickled ICE candidates
// between two peers over a websocket.
//
// Messages are JSON envelopes:
//
//	{"type":"description","description":{"kind":"offer","sdp":"v=0..."}}
//	{"type":"candidate","candidate":{"mid":"0","mLineIndex":0,"candidate":"candidate:..."}}
//	{"type":"peer-joined"}
//	{"type":"close"}
//	{"type":"error","code":"room_full","message":"..."}
//
// WSChannel is the peer side of the connection and implements
// negotiation.SignalingChannel. Client dispatches inbound messages to a
// negotiation.Machine. RelayServer is the rendezvous point that pairs two
// peers per room and forwards messages between them unchanged.
package signaling

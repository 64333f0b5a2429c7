package codec

// WriteEcho starts, (empty-bodies,) and ends an echo/heartbeat control
// message (command 0). The inline 4-byte field is unused and left zero;
// either side treats receipt of command 0 as liveness (spec.md §4.1,
// §4.2 heartbeat).
func WriteEcho(w *MessageWriter) error {
	if err := w.StartMessage(CmdEcho, true); err != nil {
		return err
	}
	return w.EndControlMessage(0)
}

// WriteSetByteOrder sends control command 2, the only point at which
// byte order may change for subsequent application messages (spec.md
// §4.1). bigEndian selects the order the *sender* will use from now on;
// the peer must adopt it.
func WriteSetByteOrder(w *MessageWriter, bigEndian bool) error {
	if err := w.StartMessage(CmdSetByteOrder, true); err != nil {
		return err
	}
	var inline uint32
	if bigEndian {
		inline = 1
	}
	return w.EndControlMessage(inline)
}

// DecodeSetByteOrder interprets the inline payload of a CmdSetByteOrder
// control message.
func DecodeSetByteOrder(inline uint32) (bigEndian bool) { return inline != 0 }

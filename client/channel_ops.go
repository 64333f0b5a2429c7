package client

import "github.com/epics-pva/pvaclient-go/pvdata"

// Get issues a GET operation (spec.md §6 "channel.get(timeout|cb,
// pvRequest) → value | Operation"). pvRequest selects a sub-field path;
// empty means the whole top-level structure. cb receives exactly one
// terminal event once the server replies, times out, or the operation is
// cancelled.
func (c *Channel) Get(pvRequest string, cb func(Event)) *Operation {
	op := newOperation(c, OpGet, cb)
	op.fieldRequest = pvRequest
	c.registerOp(op)
	op.start()
	return op
}

// Put issues a PUT operation writing value to pvRequest's sub-field path.
func (c *Channel) Put(value pvdata.Serializable, pvRequest string, cb func(Event)) *Operation {
	op := newOperation(c, OpPut, cb)
	op.fieldRequest = pvRequest
	op.putValue = value
	c.registerOp(op)
	op.start()
	return op
}

// PutGet writes value then returns the resulting structure in one
// round trip.
func (c *Channel) PutGet(value pvdata.Serializable, pvRequest string, cb func(Event)) *Operation {
	op := newOperation(c, OpPutGet, cb)
	op.fieldRequest = pvRequest
	op.putValue = value
	c.registerOp(op)
	op.start()
	return op
}

// Rpc issues an RPC with args as the argument structure.
func (c *Channel) Rpc(args pvdata.Serializable, pvRequest string, cb func(Event)) *Operation {
	op := newOperation(c, OpRpc, cb)
	op.fieldRequest = pvRequest
	op.rpcArgs = args
	c.registerOp(op)
	op.start()
	return op
}

// Process requests the server re-run processing on the channel's record.
func (c *Channel) Process(pvRequest string, cb func(Event)) *Operation {
	op := newOperation(c, OpProcess, cb)
	op.fieldRequest = pvRequest
	c.registerOp(op)
	op.start()
	return op
}

// GetField fetches a field's introspection descriptor without its value
// (one-shot: single request, single response, no INIT phase).
func (c *Channel) GetField(subField string, cb func(Event)) *Operation {
	op := newOperation(c, OpGetField, cb)
	op.fieldRequest = subField
	c.registerOp(op)
	op.start()
	return op
}

// Destroy implements spec.md §4.5's universal "* -> DESTROYED" transition.
func (c *Channel) Destroy() { c.destroy() }

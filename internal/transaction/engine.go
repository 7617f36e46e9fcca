package transaction

import (
	"sort"
	"time"

	"github.com/oriys/flowhost/internal/circuitbreaker"
	"github.com/oriys/flowhost/internal/entity"
	"github.com/oriys/flowhost/internal/errs"
	"github.com/oriys/flowhost/internal/invocation"
	"github.com/oriys/flowhost/internal/metrics"
	"github.com/oriys/flowhost/internal/observability"
	"github.com/oriys/flowhost/internal/packet"
	"github.com/oriys/flowhost/internal/schematic"
)

// Run starts the transaction's routing goroutine and returns the caller's
// output receiver immediately (the "cold lazy stream" contract mirrored
// at the provider level extends to the network entry point itself).
// callerPayload maps input port name to its already-MessagePack-encoded
// bytes.
func (t *Transaction) Run(callerPayload map[string][]byte) <-chan packet.PortedPacket {
	go t.loop(callerPayload)
	return t.out
}

func (t *Transaction) loop(callerPayload map[string][]byte) {
	metrics.IncActiveTransactions()
	t.ctx, t.span = observability.StartServerSpan(t.ctx, "transaction "+t.Schematic,
		observability.AttrSchematic.String(t.Schematic),
		observability.AttrTransactionID.String(t.ID),
	)
	defer t.teardown()

	if err := t.seed(callerPayload); err != nil {
		t.abort(err)
		return
	}
	if t.fatal.Load() {
		return
	}
	t.scan()
	if t.fatal.Load() {
		return
	}

	for {
		select {
		case <-t.ctx.Done():
			t.cancelling.Store(true)
			t.log.Info("transaction cancelled")
			return
		case rp, ok := <-t.routed:
			if !ok {
				return
			}
			if t.fatal.Load() {
				continue
			}
			t.route(rp)
			if t.fatal.Load() {
				return
			}
			if t.allOutputsSealed() {
				return
			}
			t.scan()
			if t.fatal.Load() {
				return
			}
		}
	}
}

// seed pushes the caller's payload onto the schematic input reference's
// outbound connections, and pre-loads default-only input ports with a
// single defaulted packet (step 1, step 2 "optional inputs with
// a defaulted packet synthesised from the schematic's default").
func (t *Transaction) seed(callerPayload map[string][]byte) *errs.Error {
	for _, conn := range t.model.Connections {
		if conn.UpstreamRef != schematic.InputRef {
			continue
		}
		data, ok := callerPayload[conn.UpstreamPort]
		if !ok {
			continue
		}
		t.deliver(conn.DownstreamRef, conn.DownstreamPort, packet.Success(data))
		t.deliver(conn.DownstreamRef, conn.DownstreamPort, packet.Done())
	}

	for ref, sig := range t.model.Signatures {
		for _, port := range sig.Inputs {
			if len(t.queues[ref][port]) > 0 {
				continue
			}
			def, ok := t.model.DefaultFor(ref, port)
			if !ok {
				continue
			}
			t.queues[ref][port] = append(t.queues[ref][port], packet.Success(def))
			t.queues[ref][port] = append(t.queues[ref][port], packet.Done())
		}
	}
	return nil
}

// deliver pushes a packet onto an instance's input queue, or forwards it
// directly to the caller if the destination is the schematic's <output>
// reference, updating bracket/double-close bookkeeping for that port.
func (t *Transaction) deliver(ref, port string, p packet.Packet) {
	t.packetsIn.Add(1)
	if ref == schematic.OutputRef {
		bt := t.callerBracketFor(port)
		if err := bt.Observe(port, p); err != nil {
			t.abort(errs.NewTransport(errs.CodeBracketImbalance, err.Error(), err))
			return
		}
		if p.IsDone() {
			t.callerSealed[port] = true
		}
		t.send(packet.PortedPacket{Port: port, Packet: p})
		return
	}

	bt := t.bracketFor(ref, port)
	if err := bt.Observe(port, p); err != nil {
		t.abort(errs.NewTransport(errs.CodeBracketImbalance, err.Error(), err))
		return
	}
	if t.queues[ref] == nil {
		t.queues[ref] = make(map[string][]packet.Packet)
	}
	t.queues[ref][port] = append(t.queues[ref][port], p)
	if hw := t.cfg.BufferHighWater; hw > 0 && len(t.queues[ref][port]) == hw+1 {
		t.log.Warn("input buffer exceeded high-water mark", "instance", ref, "port", port, "high_water", hw)
	}
}

// scan performs the ready-scan/dispatch pass over every instance in
// deterministic topological-then-lexicographic order (tie-break).
func (t *Transaction) scan() {
	for _, ref := range t.model.Order {
		if ref == schematic.InputRef || ref == schematic.OutputRef {
			continue
		}
		if t.retired[ref] {
			continue
		}
		t.fireAllReady(ref)
		if t.fatal.Load() {
			return
		}
	}
}

// fireAllReady repeatedly zips one packet from each required input port of
// ref and dispatches it, as long as every required port's queue has a
// value-kind packet (Success/Json/Error/Exception) at its head. A Signal
// packet at the head of any required port simply stops further firing for
// that instance until more value packets arrive.
func (t *Transaction) fireAllReady(ref string) {
	sig := t.model.Signatures[ref]
	for {
		if t.fatal.Load() {
			return
		}
		zipped := make(map[string]packet.Packet, len(sig.Inputs))
		ready := true
		for _, port := range sig.Inputs {
			q := t.queues[ref][port]
			if len(q) == 0 {
				ready = false
				break
			}
			head := q[0]
			if head.Kind() == packet.KindSignal {
				ready = false
				break
			}
			zipped[port] = head
		}
		if !ready {
			return
		}
		for _, port := range sig.Inputs {
			t.queues[ref][port] = t.queues[ref][port][1:]
		}
		t.dispatchOne(ref, sig, zipped)
	}
}

// dispatchOne fires a single zipped tick for ref. If any zipped packet is
// an Error/Exception, the firing is never sent to the provider: the error
// is cascaded directly onto every declared output port ("its own
// outputs become Error"). Otherwise a child invocation is constructed and
// submitted to the instance's provider, and its returned stream is routed
// back through the transaction's internal channel.
func (t *Transaction) dispatchOne(ref string, sig schematic.Signature, zipped map[string]packet.Packet) {
	for _, p := range zipped {
		if p.Kind() == packet.KindError || p.Kind() == packet.KindException {
			for _, out := range sig.Outputs {
				t.routeFrom(ref, out, p)
			}
			return
		}
	}

	inst := t.model.Instances[ref]
	breaker := t.breakerFor(ref)
	if breaker != nil && !breaker.Allow() {
		errPkt := errs.NewProvider(errs.CodeUninitialized, "circuit open for instance "+ref)
		for _, out := range sig.Outputs {
			t.routeFrom(ref, out, errs.ToPacket(errPkt))
		}
		return
	}

	payload := invocation.Payload{}
	if len(zipped) == 1 {
		for _, p := range zipped {
			payload.Single = p.Bytes()
		}
	} else {
		payload.Ports = make(map[string][]byte, len(zipped))
		for port, p := range zipped {
			payload.Ports[port] = p.Bytes()
		}
	}

	origin := entity.Port(t.Schematic, ref, "")
	target := entity.Component(inst.Namespace + "::" + inst.Operation)
	inv, err := invocation.Next(t.signer, t.issuer, origin, target, inst.Operation, payload, t.ID)
	if err != nil {
		t.abort(errs.NewSignature(errs.CodeMissingRequiredInput, err.Error()))
		return
	}

	prov, ok := t.registry.Get(inst.Namespace)
	if !ok {
		t.abort(errs.NewValidation(errs.CodeInstanceNotFound, "no provider registered for namespace "+inst.Namespace))
		return
	}

	dispatchCtx, dispatchSpan := observability.StartSpan(t.ctx, "dispatch "+ref,
		observability.AttrInstanceRef.String(ref),
		observability.AttrProvider.String(inst.Namespace),
		observability.AttrOperation.String(inst.Operation),
	)

	stream, err := prov.Invoke(dispatchCtx, target, inst.Operation, inv.Payload.SerializedBytes())
	if err != nil {
		if breaker != nil {
			breaker.RecordFailure()
		}
		observability.SetSpanError(dispatchSpan, err)
		dispatchSpan.End()
		errPkt := errs.NewProvider(errs.CodeRPCUpstream, err.Error())
		for _, out := range sig.Outputs {
			t.routeFrom(ref, out, errs.ToPacket(errPkt))
		}
		return
	}

	t.dispatches.Add(1)
	t.inflight.Add(1)
	metrics.RecordDispatch(t.Schematic, ref)
	dispatchStart := time.Now()
	go func() {
		defer t.inflight.Done()
		defer dispatchSpan.End()
		sawError := false
		for pp := range stream.Packets {
			if pp.Packet.Kind() == packet.KindError || pp.Packet.Kind() == packet.KindException {
				sawError = true
			}
			select {
			case t.routed <- routedPacket{Instance: ref, Port: pp.Port, Packet: pp.Packet}:
			case <-t.ctx.Done():
				return
			}
		}
		durationMs := time.Since(dispatchStart).Milliseconds()
		dispatchSpan.SetAttributes(observability.AttrDurationMs.Int64(durationMs))
		if sawError {
			observability.SetSpanError(dispatchSpan, errs.NewProvider(errs.CodeRPCUpstream, "dispatch returned an error packet"))
		} else {
			observability.SetSpanOK(dispatchSpan)
		}
		metrics.RecordInvocation(inst.Namespace, inst.Operation, durationMs, !sawError)
		if breaker != nil {
			before := breaker.State()
			if sawError {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
			after := breaker.State()
			key := t.Schematic + "/" + ref
			metrics.SetCircuitBreakerState(key, int(after))
			if after != before {
				metrics.RecordCircuitBreakerTrip(key, after.String())
			}
		}
	}()
}

func (t *Transaction) breakerFor(ref string) *circuitbreaker.Breaker {
	if t.breakers == nil {
		return nil
	}
	return t.breakers.Get(t.Schematic+"/"+ref, t.cfg.BreakerPolicy)
}

// route processes one packet received from a dispatched provider stream:
// updates output-side sealing bookkeeping and forwards it to every
// downstream connection (step 4 Route, step 5 Done propagation).
func (t *Transaction) route(rp routedPacket) {
	if rp.Packet.IsDone() {
		t.outputSealed[rp.Instance][rp.Port] = true
		if t.allInstanceOutputsSealed(rp.Instance) {
			t.retired[rp.Instance] = true
		}
	}
	t.routeFrom(rp.Instance, rp.Port, rp.Packet)
}

// routeFrom pushes p onto every downstream endpoint connected from
// instance.port.
func (t *Transaction) routeFrom(instance, port string, p packet.Packet) {
	for _, conn := range t.model.DownstreamOf(instance, port) {
		t.deliver(conn.DownstreamRef, conn.DownstreamPort, p)
	}
}

func (t *Transaction) allInstanceOutputsSealed(ref string) bool {
	sig := t.model.Signatures[ref]
	for _, out := range sig.Outputs {
		if !t.outputSealed[ref][out] {
			return false
		}
	}
	return true
}

// allOutputsSealed reports whether every schematic <output> port the model
// declares connections to has sealed on the caller side (step 6
// Terminate).
func (t *Transaction) allOutputsSealed() bool {
	ports := t.outputPorts()
	if len(ports) == 0 {
		return false
	}
	for _, p := range ports {
		if !t.callerSealed[p] {
			return false
		}
	}
	return true
}

func (t *Transaction) outputPorts() []string {
	seen := map[string]bool{}
	for _, conn := range t.model.Connections {
		if conn.DownstreamRef == schematic.OutputRef {
			seen[conn.DownstreamPort] = true
		}
	}
	ports := make([]string, 0, len(seen))
	for p := range seen {
		ports = append(ports, p)
	}
	sort.Strings(ports)
	return ports
}

// teardown cancels the transaction's context (unblocking any in-flight
// provider-stream forwarding goroutines still selecting on t.routed),
// closes the caller's output channel, and reports the final Summary.
func (t *Transaction) teardown() {
	t.cancel()
	close(t.out)
	go t.inflight.Wait()
	metrics.DecActiveTransactions()

	summary := Summary{
		TransactionID: t.ID,
		Schematic:     t.Schematic,
		DurationMs:    time.Since(t.startedAt).Milliseconds(),
		Success:       !t.fatal.Load(),
		PacketsIn:     int(t.packetsIn.Load()),
		PacketsOut:    int(t.packetsOut.Load()),
		Dispatches:    int(t.dispatches.Load()),
		Cancelled:     t.cancelling.Load(),
	}
	metrics.RecordTransaction(summary.Schematic, summary.DurationMs, summary.Success)
	if t.span != nil {
		t.span.SetAttributes(
			observability.AttrDurationMs.Int64(summary.DurationMs),
			observability.AttrPacketsIn.Int(summary.PacketsIn),
			observability.AttrPacketsOut.Int(summary.PacketsOut),
			observability.AttrDispatches.Int(summary.Dispatches),
		)
		if summary.Success {
			observability.SetSpanOK(t.span)
		} else {
			observability.SetSpanError(t.span, errs.NewProvider(errs.CodeRPCUpstream, "transaction did not complete successfully"))
		}
		t.span.End()
	}
	if t.onTerminate != nil {
		t.onTerminate(summary)
	}
}

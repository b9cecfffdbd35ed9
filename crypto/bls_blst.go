//go:build blst

package crypto

// blst adapter: wires the supranational/blst cgo bindings as a BLS backend.
// Selected with `go build -tags blst`; the importing binary still chooses
// the active backend with SetBackend.

import (
	blst "github.com/supranational/blst/bindings/go"
)

// BlstBackend implements Backend on the blst library. It is substantially
// faster than the pure-Go backend and is the recommended choice for
// production deployments with cgo available.
type BlstBackend struct{}

func (b *BlstBackend) Name() string { return "blst" }

func (b *BlstBackend) Verify(pubkey, msg, sig []byte) bool {
	pk := new(blst.P1Affine).Uncompress(pubkey)
	if pk == nil || !pk.KeyValidate() {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	return s.Verify(true, pk, true, msg, SignatureDST)
}

func (b *BlstBackend) FastAggregateVerify(pubkeys [][]byte, msg, sig []byte) bool {
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	pks := make([]*blst.P1Affine, len(pubkeys))
	for i, raw := range pubkeys {
		pks[i] = new(blst.P1Affine).Uncompress(raw)
		if pks[i] == nil {
			return false
		}
	}
	return s.FastAggregateVerify(true, pks, msg, SignatureDST)
}

func (b *BlstBackend) AggregateVerify(pubkeys, msgs [][]byte, sig []byte) bool {
	if len(pubkeys) != len(msgs) {
		return false
	}
	s := new(blst.P2Affine).Uncompress(sig)
	if s == nil {
		return false
	}
	pks := make([]*blst.P1Affine, len(pubkeys))
	for i, raw := range pubkeys {
		pks[i] = new(blst.P1Affine).Uncompress(raw)
		if pks[i] == nil {
			return false
		}
	}
	blstMsgs := make([]blst.Message, len(msgs))
	for i, m := range msgs {
		blstMsgs[i] = m
	}
	return s.AggregateVerify(true, pks, true, blstMsgs, SignatureDST)
}

// Copyright 2022-2026 The N42 Authors
// This file is part of the N42 library.
//
// The N42 library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The N42 library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the N42 library. If not, see <http://www.gnu.org/licenses/>.

package uopool

import (
	"encoding/hex"
	"encoding/json"
	"math/big"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/n42blockchain/uopool/pkg/errors"
)

// jsTracerSource is the debug_traceCall JavaScript tracer shipped to the
// execution client for every simulate_validation_trace call. It is the
// BundlerCollectorTracer from the eth-infinitism reference bundler,
// carried byte-for-byte so the rules below operate on exactly the frame
// shape the upstream tracer was designed to produce.
const jsTracerSource = `
{
    callsFromEntryPoint: [],
    currentLevel: null,
    keccak: [],
    calls: [],
    logs: [],
    debug: [],
    lastOp: '',
    lastThreeOpcodes: [],
    // event sent after all validations are done: keccak("BeforeExecution()")
    stopCollectingTopic: 'bb47ee3e183a558b1a2ff0874b079f3fc5478b7454eacf2bfc5af2ff5878f972',
    stopCollecting: false,
    topLevelCallCounter: 0,

    fault: function(log, db) {
        this.debug.push(` + "`fault depth=${log.getDepth()} gas=${log.getGas()} cost=${log.getCost()} err=${log.getError()}`" + `);
    },

    result: function(ctx, db) {
        return {
            callsFromEntryPoint: this.callsFromEntryPoint,
            keccak: this.keccak,
            logs: this.logs,
            calls: this.calls,
            debug: this.debug // for internal debugging.
        };
    },

    enter: function(frame) {
        if (this.stopCollecting) {
            return;
        }
        this.calls.push({
            type: frame.getType(),
            from: toHex(frame.getFrom()),
            to: toHex(frame.getTo()),
            method: toHex(frame.getInput()).slice(0, 10),
            gas: frame.getGas(),
            value: frame.getValue()
        });
    },

    exit: function(frame) {
        if (this.stopCollecting) {
            return;
        }
        this.calls.push({
            type: frame.getError() != null ? 'REVERT' : 'RETURN',
            gasUsed: frame.getGasUsed(),
            data: toHex(frame.getOutput()).slice(0, 4000)
        });
    },

    // increment the "key" in the list. if the key is not defined yet, then set it to "1"
    countSlot: function(list, key) {
        var _a;
        list[key] = ((_a = list[key]) !== null && _a !== void 0 ? _a : 0) + 1;
    },

    step: function(log, db) {
        var _a;
        if (this.stopCollecting) {
            return;
        }
        const opcode = log.op.toString();
        const stackSize = log.stack.length();
        const stackTop3 = [];
        for (let i = 0; i < 3 && i < stackSize; i++) {
            stackTop3.push(log.stack.peek(i));
        }
        this.lastThreeOpcodes.push({
            opcode: opcode,
            stackTop3: stackTop3
        });
        if (this.lastThreeOpcodes.length > 3) {
            this.lastThreeOpcodes.shift();
        }
        if (log.getGas() < log.getCost() || (
            // special rule for SSTORE with gas metering
            opcode === 'SSTORE' && log.getGas() < 2300)
        ) {
            this.currentLevel.oog = true;
        }
        if (opcode === 'REVERT' || opcode === 'RETURN') {
            if (log.getDepth() === 1) {
                // exit() is not called on top-level return/revent, so we reconstruct it
                // from opcode
                const ofs = parseInt(log.stack.peek(0).toString());
                const len = parseInt(log.stack.peek(1).toString());
                const data = toHex(log.memory.slice(ofs, ofs + len)).slice(0, 4000);
                this.calls.push({
                    type: opcode,
                    gasUsed: 0,
                    data: data
                });
            }
            // NOTE: flushing all history after RETURN
            this.lastThreeOpcodes = [];
        }
        if (log.getDepth() === 1) {
            if (opcode === 'CALL' || opcode === 'STATICCALL') {
                // stack.peek(0) - gas
                const addr = toAddress(log.stack.peek(1).toString(16));
                const topLevelTargetAddress = toHex(addr);
                // stack.peek(2) - value
                const ofs = parseInt(log.stack.peek(3).toString());
                // stack.peek(4) - len
                const topLevelMethodSig = toHex(log.memory.slice(ofs, ofs + 4));
                this.currentLevel = this.callsFromEntryPoint[this.topLevelCallCounter] = {
                    topLevelMethodSig: topLevelMethodSig,
                    topLevelTargetAddress: topLevelTargetAddress,
                    access: {},
                    opcodes: {},
                    extCodeAccessInfo: {},
                    contractSize: {}
                };
                this.topLevelCallCounter++;
            } else if (opcode === 'LOG1') {
                // ignore log data ofs, len
                const topic = log.stack.peek(2).toString(16);
                if (topic === this.stopCollectingTopic) {
                    this.stopCollecting = true;
                }
            }
            this.lastOp = '';
            return;
        }
        const lastOpInfo = this.lastThreeOpcodes[this.lastThreeOpcodes.length - 2];
        // store all addresses touched by EXTCODE* opcodes
        if (((_a = lastOpInfo === null || lastOpInfo === void 0 ? void 0 : lastOpInfo.opcode) === null || _a === void 0 ? void 0 : _a.match(/^(EXT.*)$/)) != null) {
            const addr = toAddress(lastOpInfo.stackTop3[0].toString(16));
            const addrHex = toHex(addr);
            const last3opcodesString = this.lastThreeOpcodes.map(function(x) {
                return x.opcode;
            }).join(' ');
            // only store the last EXTCODE* opcode per address - could even be a boolean for our current use-case
            // [OP-051] - may call EXTCODESIZE ISZERO
            if (last3opcodesString.match(/^(\w+) EXTCODESIZE ISZERO$/) == null) {
                this.currentLevel.extCodeAccessInfo[addrHex] = opcode;
            }
        }
        // not using 'isPrecompiled' to only allow the ones defined by the ERC-4337 as stateless precompiles
        // [OP-062] - only allowed the core 9 precompiles
        const isAllowedPrecompiled = function(address) {
            const addrHex = toHex(address);
            const addressInt = parseInt(addrHex);
            return addressInt > 0 && addressInt < 10;
        };
        // [OP-041] - access to an address without a deployed code is forbidden for EXTCODE* and *CALL opcodes
        if (opcode.match(/^(EXT.*|CALL|CALLCODE|DELEGATECALL|STATICCALL)$/) != null) {
            const idx = opcode.startsWith('EXT') ? 0 : 1;
            const addr = toAddress(log.stack.peek(idx).toString(16));
            const addrHex = toHex(addr);
            if (this.currentLevel.contractSize[addrHex] == null && !isAllowedPrecompiled(addr)) {
                this.currentLevel.contractSize[addrHex] = {
                    contractSize: db.getCode(addr).length,
                    opcode: opcode
                };
            }
        }
        // [OP-012] - GAS opcode is allowed, but only if followed immediately by *CALL instructions
        if (this.lastOp === 'GAS' && !opcode.includes('CALL')) {
            // count "GAS" opcode only if not followed by "CALL"
            this.countSlot(this.currentLevel.opcodes, 'GAS');
        }
        if (opcode !== 'GAS') {
            // ignore "unimportant" opcodes:
            if (opcode.match(/^(DUP\d+|PUSH\d+|SWAP\d+|POP|ADD|SUB|MUL|DIV|EQ|LTE?|S?GTE?|SLT|SH[LR]|AND|OR|NOT|ISZERO)$/) == null) {
                this.countSlot(this.currentLevel.opcodes, opcode);
            }
        }
        this.lastOp = opcode;
        if (opcode === 'SLOAD' || opcode === 'SSTORE') {
            const slot = toWord(log.stack.peek(0).toString(16));
            const slotHex = toHex(slot);
            const addr = log.contract.getAddress();
            const addrHex = toHex(addr);
            let access = this.currentLevel.access[addrHex];
            if (access == null) {
                access = {
                    reads: {},
                    writes: {}
                };
                this.currentLevel.access[addrHex] = access;
            }
            if (opcode === 'SLOAD') {
                // read slot values before this UserOp was created
                // (so saving it if it was written before the first read)
                if (access.reads[slotHex] == null && access.writes[slotHex] == null) {
                    access.reads[slotHex] = toHex(db.getState(addr, slot));
                }
            } else {
                this.countSlot(access.writes, slotHex);
            }
        }
        if (opcode === 'KECCAK256') {
            // collect keccak on 64-byte blocks
            const ofs = parseInt(log.stack.peek(0).toString());
            const len = parseInt(log.stack.peek(1).toString());
            if (len > 20 && len < 512) {
                this.keccak.push(toHex(log.memory.slice(ofs, ofs + len)));
            }
        } else if (opcode.startsWith('LOG')) {
            const count = parseInt(opcode.substring(3));
            const ofs = parseInt(log.stack.peek(0).toString());
            const len = parseInt(log.stack.peek(1).toString());
            const topics = [];
            for (let i = 0; i < count; i++) {
                topics.push('0x' + log.stack.peek(2 + i).toString(16));
            }
            const data = toHex(log.memory.slice(ofs, ofs + len));
            this.logs.push({
                topics: topics,
                data: data
            });
        }
    }
}
`

// init validates that jsTracerSource at least parses as a JavaScript
// object literal — it does not (and cannot, without a geth-shaped
// tracer host environment) run the tracer's methods.
func init() {
	vm := goja.New()
	if _, err := vm.RunString("(" + jsTracerSource + ")"); err != nil {
		panic("uopool: embedded JS tracer failed to parse: " + err.Error())
	}
}

// TopLevelCallInfo is one entry of callsFromEntryPoint — everything the
// tracer observed within a single top-level call frame (one frame per
// entity invoked by the EntryPoint: factory, account, paymaster).
type TopLevelCallInfo struct {
	TopLevelMethodSig     string                      `json:"topLevelMethodSig"`
	TopLevelTargetAddress string                      `json:"topLevelTargetAddress"`
	Access                map[string]ReadsAndWrites   `json:"access"`
	Opcodes               map[string]uint64           `json:"opcodes"`
	ContractSize          map[string]ContractSizeInfo `json:"contractSize"`
	ExtCodeAccessInfo     map[string]string           `json:"extCodeAccessInfo"`
	OOG                   bool                        `json:"oog"`
}

// ReadsAndWrites is the per-address storage access the tracer recorded
// within one top-level call frame: the pre-image value read on first
// SLOAD of a slot, and a write count per slot written via SSTORE.
type ReadsAndWrites struct {
	Reads  map[string]string `json:"reads"`
	Writes map[string]uint64 `json:"writes"`
}

// ContractSizeInfo records the size of the code at an address the frame
// performed EXTCODE*/CALL-family access to, and the opcode that
// triggered the access.
type ContractSizeInfo struct {
	Opcode       string `json:"opcode"`
	ContractSize uint64 `json:"contractSize"`
}

// Log is one emitted event observed during the simulation.
type Log struct {
	Topics []string `json:"topics"`
	Data   string   `json:"data"`
}

// Call is one entry/exit pair of the EVM call stack the tracer saw.
type Call struct {
	Type    string  `json:"type"`
	GasUsed *uint64 `json:"gasUsed,omitempty"`
	Data    *string `json:"data,omitempty"`
	From    *string `json:"from,omitempty"`
	To      *string `json:"to,omitempty"`
	Method  *string `json:"method,omitempty"`
	Gas     *uint64 `json:"gas,omitempty"`
	Value   *string `json:"value,omitempty"`
}

// JsTracerFrame is the full result() object the tracer returns for one
// debug_traceCall: one TopLevelCallInfo per entity invoked by the
// EntryPoint, every keccak256 preimage observed, every log emitted, and
// the full flattened call stack.
type JsTracerFrame struct {
	CallsFromEntryPoint []TopLevelCallInfo `json:"callsFromEntryPoint"`
	Keccak              []string           `json:"keccak"`
	Logs                []Log              `json:"logs"`
	Calls               []Call             `json:"calls"`
	Debug               []string           `json:"debug"`
}

// decodeJsTracerFrame converts the raw JSON-RPC result of
// debug_traceCall (already JSON-decoded into Go maps/slices by the RPC
// client) into a JsTracerFrame.
func decodeJsTracerFrame(raw interface{}) (*JsTracerFrame, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var frame JsTracerFrame
	if err := json.Unmarshal(buf, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

var unimportantOpcode = regexp.MustCompile(`^(DUP\d+|PUSH\d+|SWAP\d+|POP|ADD|SUB|MUL|DIV|EQ|LTE?|S?GTE?|SLT|SH[LR]|AND|OR|NOT|ISZERO)$`)
var extCodeOpcode = regexp.MustCompile(`^EXT.*$`)
var safeExtCodeSizePattern = regexp.MustCompile(`^(\w+) EXTCODESIZE ISZERO$`)

// forbiddenOpcodes is the ERC-4337 validation-time opcode ban list: none
// of these may appear in any entity's call frame (R2 in the trace
// stage's rule set).
var forbiddenOpcodes = map[string]struct{}{
	"GASPRICE":     {},
	"GASLIMIT":     {},
	"DIFFICULTY":   {},
	"TIMESTAMP":    {},
	"BASEFEE":      {},
	"BLOCKHASH":    {},
	"NUMBER":       {},
	"SELFBALANCE":  {},
	"BALANCE":      {},
	"ORIGIN":       {},
	"CREATE":       {},
	"COINBASE":     {},
	"SELFDESTRUCT": {},
	// GAS is only recorded in the opcodes histogram when the tracer's own
	// step() saw it NOT immediately followed by a *CALL opcode (see
	// jsTracerSource's countSlot("GAS", ...) guard) — so its presence here
	// always means the forbidden, unguarded form.
	"GAS":        {},
	"RANDOM":     {},
	"PREVRANDAO": {},
	"INVALID":    {},
}

// isAllowedPrecompile reports whether addr is one of the core 9 precompiles ERC-4337 permits staticcalls
// to regardless of stake (R2's precompile carve-out, address 1..9).
func isAllowedPrecompile(addr string) bool {
	if len(addr) < 3 {
		return false
	}
	n := 0
	for _, c := range addr[2:] {
		n = n*16 + hexDigit(c)
	}
	return n > 0 && n < 10
}

func hexDigit(c rune) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return 0
	}
}

// checkForbiddenOpcodes returns an error if frame used any
// validation-time-forbidden opcode (trace rule R2).
func checkForbiddenOpcodes(frame TopLevelCallInfo) error {
	for op := range frame.Opcodes {
		if _, banned := forbiddenOpcodes[op]; banned {
			return errors.Wrapf(errors.ErrOpcode, "forbidden opcode %s used at %s", op, frame.TopLevelTargetAddress)
		}
	}
	return nil
}

// checkOutOfGas returns an error if frame's execution came within gas
// metering distance of running out (trace rule R1).
func checkOutOfGas(frame TopLevelCallInfo) error {
	if frame.OOG {
		return errors.Wrapf(errors.ErrOutOfGas, "entity %s ran low on gas during validation", frame.TopLevelTargetAddress)
	}
	return nil
}

// checkStorageAccess enforces that every storage slot an entity read or
// wrote belongs either to its own contract or is associated with the
// sender, per ERC-4337's storage-association rule (trace rule R5).
// entityAddr is the entity whose frame is examined; slotOwner is the
// contract whose slots it touched; the access passes if slotOwner is
// entityAddr itself or is a key of associated (associatedSlots' output for
// the sender, which includes the sender's bare address).
func checkStorageAccess(entityAddr, slotOwner string, associated map[string]struct{}) error {
	if slotOwner == entityAddr {
		return nil
	}
	if _, ok := associated[slotOwner]; ok {
		return nil
	}
	return errors.Wrapf(errors.ErrStorageAccess, "entity %s accessed unassociated storage at %s", entityAddr, slotOwner)
}

// associatedSlots derives, from the keccak preimages the tracer observed,
// the set of storage slots associated with addr: the slot equal to addr
// itself left-padded to 32 bytes, and every slot within the 128-slot
// range keyed off a keccak256 preimage whose first 32 bytes are addr
// left-padded (trace rule R5, the mapping(address => ...)-shaped slot
// association eth-infinitism's reference bundler allows). The set also
// holds addr itself, which checkStorageAccess looks slot owners up by.
func associatedSlots(addr string, keccakPreimages []string) map[string]struct{} {
	out := map[string]struct{}{addr: {}}

	addrWord := leftPad32(addr)
	out["0x"+hex.EncodeToString(addrWord)] = struct{}{}
	for _, preimage := range keccakPreimages {
		raw, err := hexDecode(preimage)
		if err != nil || len(raw) < 64 {
			continue
		}
		if !bytesEqualHex(raw[:32], addrWord) {
			continue
		}
		base := new(big.Int).SetBytes(crypto.Keccak256(raw))
		for i := int64(0); i < 128; i++ {
			slot := new(big.Int).Add(base, big.NewInt(i))
			out["0x"+hex.EncodeToString(common.LeftPadBytes(slot.Bytes(), 32))] = struct{}{}
		}
	}
	return out
}

func leftPad32(addrHex string) []byte {
	raw, err := hexDecode(addrHex)
	if err != nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(raw, 32)
}

func bytesEqualHex(a, b []byte) bool {
	return hex.EncodeToString(a) == hex.EncodeToString(b)
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// checkCreate2Quota enforces that CREATE2 appears at most once across
// the validation frames, and only within the factory's own frame (trace
// rule R3): a factory deploying a sender's account may use CREATE2
// exactly once, nobody else may use it at all. frames and entities are
// parallel, one per top-level call EntryPoint made, so a violation can
// be wrapped with the offending entity's kind, matching R2's
// forbidden-opcode errors.
func checkCreate2Quota(frames []TopLevelCallInfo, entities []Entity) error {
	factoryAddr := ""
	for _, entity := range entities {
		if entity.Kind == EntityFactory {
			factoryAddr = strings.ToLower(entity.Address.Hex())
		}
	}

	total := uint64(0)
	for i, frame := range frames {
		count := frame.Opcodes["CREATE2"]
		if count == 0 {
			continue
		}
		if frame.TopLevelTargetAddress != factoryAddr {
			err := errors.Wrapf(errors.ErrOpcode, "CREATE2 used outside the factory frame at %s", frame.TopLevelTargetAddress)
			return errors.Wrap(err, entities[i].Kind.String())
		}
		total += count
	}
	if total > 1 {
		err := errors.Wrapf(errors.ErrOpcode, "CREATE2 used %d times, factory may use it at most once", total)
		return errors.Wrap(err, EntityFactory.String())
	}
	return nil
}

// checkExtCodeAccess enforces rule R4: any EXT* opcode that ran against
// an address with empty deployed code is forbidden, unless the very next
// opcode pair guarded it with EXTCODESIZE ISZERO (the accepted "probe for
// non-existence" idiom, matched by safeExtCodeSizePattern on the tracer's
// lastThreeOpcodes window and surfaced here via extCodeAccessInfo).
func checkExtCodeAccess(frame TopLevelCallInfo, contractSize map[string]ContractSizeInfo) error {
	for addr, opcode := range frame.ExtCodeAccessInfo {
		if !extCodeOpcode.MatchString(opcode) {
			continue
		}
		info, ok := contractSize[addr]
		if !ok || info.ContractSize > 0 {
			continue
		}
		return errors.Wrapf(errors.ErrOpcode, "%s accessed empty code at %s without an EXTCODESIZE ISZERO guard", opcode, addr)
	}
	return nil
}

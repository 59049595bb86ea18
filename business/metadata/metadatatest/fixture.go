// Package metadatatest builds small Polkadot-shaped runtime metadata blobs for
// every supported metadata version. The pallets, items and encoded constants
// are the same across versions so tests can assert version-independent results.
//
//	System     (0) Account, Number, BlockHash; BlockHashCount; remark; ExtrinsicSuccess; InvalidSpecName
//	Timestamp  (2) Now; MinimumPeriod; set
//	Balances   (5) TotalIssuance; ExistentialDeposit; InsufficientBalance
//	Staking    (7) ErasStakers (era, account) -> balance, Optional
//
// Before V12 the pallet index is the module position: 0, 1, 2, 3.
package metadatatest

import (
	"math/big"

	"github.com/fd1az/substrate-sidecar/pkg/scale"
)

// Values encoded in the fixture.
const (
	ExistentialDeposit = 10_000_000_000
	BlockHashCount     = 4096
	MinimumPeriod      = 3000
)

// Versions lists every metadata version the fixture can be built for.
var Versions = []uint8{9, 10, 11, 12, 13, 14, 15, 16}

var legacyOrder = []string{"System", "Timestamp", "Balances", "Staking"}

var palletIndex = map[string]uint8{"System": 0, "Timestamp": 2, "Balances": 5, "Staking": 7}

// PalletIndex returns the index a pallet carries in the fixture for version.
func PalletIndex(version uint8, name string) uint8 {
	if version < 12 {
		for i, n := range legacyOrder {
			if n == name {
				return uint8(i)
			}
		}
	}
	return palletIndex[name]
}

// Polkadot returns the prefixed metadata blob for version.
func Polkadot(version uint8) []byte {
	e := scale.NewEncoder().U32(0x6174656d).U8(version)
	if version >= 14 {
		portable(e, version)
	} else {
		legacy(e, version)
	}
	return e.Bytes()
}

func u128(v uint64) []byte {
	return scale.NewEncoder().Uint(new(big.Int).SetUint64(v), 16).Bytes()
}

func zeros(n int) []byte { return make([]byte, n) }

// legacy storage entry type tags
const (
	plain     = 0
	mapType   = 1
	doubleMap = 2
	nMap      = 3
)

// hasher discriminants
const (
	blake2_128Concat = 2
	twox64Concat     = 5
)

func legacy(e *scale.Encoder, version uint8) {
	e.Compact(uint64(len(legacyOrder)))

	// System
	e.String("System")
	e.Option(true).String("System").Compact(3)
	e.String("Account").U8(1).U8(mapType).U8(blake2_128Concat).
		String("T::AccountId").String("AccountInfo<T::Index, T::AccountData>").Bool(false).
		Vec(zeros(80)).Strings([]string{" The full account information for a particular account ID."})
	e.String("Number").U8(1).U8(plain).String("T::BlockNumber").
		Vec(zeros(4)).Strings([]string{" The current block number being processed."})
	e.String("BlockHash").U8(1).U8(mapType).U8(twox64Concat).
		String("T::BlockNumber").String("T::Hash").Bool(false).
		Vec(zeros(32)).Strings(nil)
	e.Option(true).Compact(1).
		String("remark").Compact(1).String("_remark").String("Vec<u8>").Strings([]string{" Make some on-chain remark."})
	e.Option(true).Compact(1).
		String("ExtrinsicSuccess").Strings([]string{"DispatchInfo"}).Strings(nil)
	e.Compact(1).String("BlockHashCount").String("T::BlockNumber").
		Vec(scale.NewEncoder().U32(BlockHashCount).Bytes()).Strings(nil)
	e.Compact(1).String("InvalidSpecName").Strings(nil)
	if version >= 12 {
		e.U8(palletIndex["System"])
	}

	// Timestamp
	e.String("Timestamp")
	e.Option(true).String("Timestamp").Compact(1)
	e.String("Now").U8(1).U8(plain).String("T::Moment").Vec(zeros(8)).Strings([]string{" Current time for the current block."})
	e.Option(true).Compact(1).
		String("set").Compact(1).String("now").String("Compact<T::Moment>").Strings(nil)
	e.Option(false)
	e.Compact(1).String("MinimumPeriod").String("T::Moment").
		Vec(scale.NewEncoder().U64(MinimumPeriod).Bytes()).Strings(nil)
	e.Compact(0)
	if version >= 12 {
		e.U8(palletIndex["Timestamp"])
	}

	// Balances
	e.String("Balances")
	e.Option(true).String("Balances").Compact(1)
	e.String("TotalIssuance").U8(1).U8(plain).String("T::Balance").Vec(zeros(16)).Strings(nil)
	e.Option(false)
	e.Option(false)
	e.Compact(1).String("ExistentialDeposit").String("T::Balance").
		Vec(u128(ExistentialDeposit)).Strings([]string{" The minimum amount required to keep an account open."})
	e.Compact(1).String("InsufficientBalance").Strings(nil)
	if version >= 12 {
		e.U8(palletIndex["Balances"])
	}

	// Staking
	e.String("Staking")
	e.Option(true).String("Staking").Compact(1)
	e.String("ErasStakers").U8(0)
	if version >= 13 {
		e.U8(nMap).
			Strings([]string{"EraIndex", "T::AccountId"}).
			Compact(2).U8(twox64Concat).U8(twox64Concat).
			String("BalanceOf<T>")
	} else {
		e.U8(doubleMap).U8(twox64Concat).
			String("EraIndex").String("T::AccountId").String("BalanceOf<T>").
			U8(twox64Concat)
	}
	e.Vec(nil).Strings(nil)
	e.Option(false)
	e.Option(false)
	e.Compact(0)
	e.Compact(0)
	if version >= 12 {
		e.U8(palletIndex["Staking"])
	}

	// extrinsic metadata
	if version >= 11 {
		e.U8(4).Strings([]string{"CheckSpecVersion", "CheckNonce"})
	}
}

// Portable type ids.
const (
	tyU8 = iota
	tyU8x32
	tyAccountID32
	tyU32
	tyU64
	tyU128
	tyAccountData
	tyAccountInfo
	tyBytes
	tySystemCall
	tySystemEvent
	tySystemError
	tyBalancesError
	tyStakingKey
	tyH256
	tyTimestampCall
	tyCompactU64
)

type field struct {
	name     string
	ty       int
	typeName string
}

type variant struct {
	name   string
	index  uint8
	fields []field
}

func fields(e *scale.Encoder, fs []field) {
	e.Compact(uint64(len(fs)))
	for _, f := range fs {
		e.Option(f.name != "")
		if f.name != "" {
			e.String(f.name)
		}
		e.Compact(uint64(f.ty))
		e.Option(f.typeName != "")
		if f.typeName != "" {
			e.String(f.typeName)
		}
		e.Strings(nil)
	}
}

func typeHeader(e *scale.Encoder, id int, path []string) {
	e.Compact(uint64(id)).Strings(path).Compact(0)
}

func primitive(e *scale.Encoder, id int, prim uint8) {
	typeHeader(e, id, nil)
	e.U8(5).U8(prim).Strings(nil)
}

func composite(e *scale.Encoder, id int, path []string, fs []field) {
	typeHeader(e, id, path)
	e.U8(0)
	fields(e, fs)
	e.Strings(nil)
}

func variants(e *scale.Encoder, id int, path []string, vs []variant) {
	typeHeader(e, id, path)
	e.U8(1).Compact(uint64(len(vs)))
	for _, v := range vs {
		e.String(v.name)
		fields(e, v.fields)
		e.U8(v.index).Strings(nil)
	}
	e.Strings(nil)
}

func registry(e *scale.Encoder) {
	e.Compact(17)

	primitive(e, tyU8, 3)
	typeHeader(e, tyU8x32, nil)
	e.U8(3).U32(32).Compact(tyU8).Strings(nil)
	composite(e, tyAccountID32, []string{"sp_core", "crypto", "AccountId32"},
		[]field{{ty: tyU8x32, typeName: "[u8; 32]"}})
	primitive(e, tyU32, 5)
	primitive(e, tyU64, 6)
	primitive(e, tyU128, 7)
	composite(e, tyAccountData, []string{"pallet_balances", "types", "AccountData"}, []field{
		{"free", tyU128, "Balance"},
		{"reserved", tyU128, "Balance"},
		{"misc_frozen", tyU128, "Balance"},
		{"fee_frozen", tyU128, "Balance"},
	})
	composite(e, tyAccountInfo, []string{"frame_system", "AccountInfo"}, []field{
		{"nonce", tyU32, "Nonce"},
		{"consumers", tyU32, "RefCount"},
		{"providers", tyU32, "RefCount"},
		{"sufficients", tyU32, "RefCount"},
		{"data", tyAccountData, "AccountData"},
	})
	typeHeader(e, tyBytes, nil)
	e.U8(2).Compact(tyU8).Strings(nil)
	variants(e, tySystemCall, []string{"frame_system", "pallet", "Call"}, []variant{
		{"remark", 0, []field{{"remark", tyBytes, "Vec<u8>"}}},
	})
	variants(e, tySystemEvent, []string{"frame_system", "pallet", "Event"}, []variant{
		{"ExtrinsicSuccess", 0, nil},
	})
	variants(e, tySystemError, []string{"frame_system", "pallet", "Error"}, []variant{
		{"InvalidSpecName", 0, nil},
	})
	variants(e, tyBalancesError, []string{"pallet_balances", "pallet", "Error"}, []variant{
		{"InsufficientBalance", 2, nil},
	})
	typeHeader(e, tyStakingKey, nil)
	e.U8(4).Compact(2).Compact(tyU32).Compact(tyAccountID32).Strings(nil)
	composite(e, tyH256, []string{"primitive_types", "H256"}, []field{{ty: tyU8x32, typeName: "[u8; 32]"}})
	variants(e, tyTimestampCall, []string{"pallet_timestamp", "pallet", "Call"}, []variant{
		{"set", 0, []field{{"now", tyCompactU64, "T::Moment"}}},
	})
	typeHeader(e, tyCompactU64, nil)
	e.U8(6).Compact(tyU64).Strings(nil)
}

type storageEntry struct {
	name     string
	modifier uint8
	hashers  []uint8
	key      int
	value    int
	def      []byte
}

func storage(e *scale.Encoder, version uint8, prefix string, entries []storageEntry) {
	e.Option(true).String(prefix).Compact(uint64(len(entries)))
	for _, s := range entries {
		e.String(s.name).U8(s.modifier)
		if len(s.hashers) == 0 {
			e.U8(0).Compact(uint64(s.value))
		} else {
			e.U8(1).Compact(uint64(len(s.hashers)))
			for _, h := range s.hashers {
				e.U8(h)
			}
			e.Compact(uint64(s.key)).Compact(uint64(s.value))
		}
		e.Vec(s.def).Strings(nil)
		if version >= 16 {
			e.U8(0)
		}
	}
}

// enumRef writes Option<{ty}>, with V16 deprecation info.
func enumRef(e *scale.Encoder, version uint8, ty int) {
	if ty < 0 {
		e.Option(false)
		return
	}
	e.Option(true).Compact(uint64(ty))
	if version >= 16 {
		e.Compact(0)
	}
}

type constant struct {
	name  string
	ty    int
	value []byte
}

func constants(e *scale.Encoder, version uint8, cs []constant) {
	e.Compact(uint64(len(cs)))
	for _, c := range cs {
		e.String(c.name).Compact(uint64(c.ty)).Vec(c.value).Strings(nil)
		if version >= 16 {
			e.U8(0)
		}
	}
}

func palletTail(e *scale.Encoder, version uint8, index uint8) {
	if version >= 16 {
		e.Compact(0) // associated types
		e.Compact(0) // view functions
	}
	e.U8(index)
	if version >= 15 {
		e.Strings(nil)
	}
	if version >= 16 {
		e.U8(0)
	}
}

func portable(e *scale.Encoder, version uint8) {
	registry(e)

	e.Compact(4)

	// System
	e.String("System")
	storage(e, version, "System", []storageEntry{
		{name: "Account", modifier: 1, hashers: []uint8{blake2_128Concat}, key: tyAccountID32, value: tyAccountInfo, def: zeros(80)},
		{name: "Number", modifier: 1, value: tyU32, def: zeros(4)},
		{name: "BlockHash", modifier: 1, hashers: []uint8{twox64Concat}, key: tyU32, value: tyH256, def: zeros(32)},
	})
	enumRef(e, version, tySystemCall)
	enumRef(e, version, tySystemEvent)
	constants(e, version, []constant{{"BlockHashCount", tyU32, scale.NewEncoder().U32(BlockHashCount).Bytes()}})
	enumRef(e, version, tySystemError)
	palletTail(e, version, palletIndex["System"])

	// Timestamp
	e.String("Timestamp")
	storage(e, version, "Timestamp", []storageEntry{
		{name: "Now", modifier: 1, value: tyU64, def: zeros(8)},
	})
	enumRef(e, version, tyTimestampCall)
	enumRef(e, version, -1)
	constants(e, version, []constant{{"MinimumPeriod", tyU64, scale.NewEncoder().U64(MinimumPeriod).Bytes()}})
	enumRef(e, version, -1)
	palletTail(e, version, palletIndex["Timestamp"])

	// Balances
	e.String("Balances")
	storage(e, version, "Balances", []storageEntry{
		{name: "TotalIssuance", modifier: 1, value: tyU128, def: zeros(16)},
	})
	enumRef(e, version, -1)
	enumRef(e, version, -1)
	constants(e, version, []constant{{"ExistentialDeposit", tyU128, u128(ExistentialDeposit)}})
	enumRef(e, version, tyBalancesError)
	palletTail(e, version, palletIndex["Balances"])

	// Staking
	e.String("Staking")
	storage(e, version, "Staking", []storageEntry{
		{name: "ErasStakers", modifier: 0, hashers: []uint8{twox64Concat, twox64Concat}, key: tyStakingKey, value: tyU128},
	})
	enumRef(e, version, -1)
	enumRef(e, version, -1)
	constants(e, version, nil)
	enumRef(e, version, -1)
	palletTail(e, version, palletIndex["Staking"])

	// extrinsic (V14 layout) and runtime type; not read by the decoder
	e.Compact(0).U8(4).Compact(0).Compact(0)
}

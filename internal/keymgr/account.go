package keymgr

// Account is a user-facing receiving account (index >= 0). The internal
// AccountChange and AccountReservedPool accounts are never surfaced this
// way even though they derive sub-addresses through the same Manager.
type Account struct {
	Index int32
	Name  string
}

// Balance tracks confirmed/unconfirmed totals for one token (nil TokenID
// meaning the base asset), aggregated across an account's sub-addresses.
type Balance struct {
	Confirmed   uint64
	Unconfirmed uint64
}

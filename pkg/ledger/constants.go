package ledger

const (
	operationCredit        = "credit"
	operationDebit         = "debit"
	operationSetWad        = "set_wad"
	operationSetCap        = "set_cap"
	operationAddPending    = "add_pending"
	operationRemovePending = "remove_pending"
	operationPrunePending  = "prune_pending"
	operationSettlePending = "settle_pending"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	capNone = "none"

	sharedSeedLength  = 16
	beaconHRP         = "moneysocket"
	locationWebSocket = "WebSocket"

	errorOperationAccount = "account"
	errorSubjectWad       = "wad"
	errorSubjectRecord    = "record"
	errorCodePersist      = "persist"
	errorCodeDelete       = "delete"
)

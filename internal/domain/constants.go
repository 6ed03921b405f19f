package domain

// Transaction lifecycle statuses. TRANSACTION_CREATED is the only entry
// state; COMPLETED and FAILED are terminal.
const (
	StatusCreated    = "TRANSACTION_CREATED"
	StatusConfirmed  = "TRANSFER_CONFIRMED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

const (
	TxTypeBuyCrypto     = "BUY_CRYPTO"
	TxTypeCryptoOfframp = "CRYPTO_OFFRAMP"
)

// AmountType selects which side of a quote the user is fixing.
const (
	AmountTypeSending   = "sending"
	AmountTypeReceiving = "receiving"
)

const (
	PaymentTypeBankTransfer = "BANK_TRANSFER"
	PaymentTypeDebitCard    = "DEBIT_CARD"
)

// Processing mode for buy flows: AUTO generates a receiving account at the
// provider, MANUAL hands out the settlement bank configured in Setting.
const (
	ProcessingAuto   = "AUTO"
	ProcessingManual = "MANUAL"
)

const (
	CurrencyTypeFiat   = "fiat"
	CurrencyTypeCrypto = "crypto"
)

// FiatSymbol is the single fiat rail the system settles against.
const FiatSymbol = "NGN"

// Supported EVM networks. "fiat" is the pseudo-network of fiat currencies.
const (
	NetworkBSC            = "bsc"
	NetworkBase           = "base"
	NetworkSepolia        = "sepolia"
	NetworkBaseSepolia    = "base_sepolia"
	NetworkAssetchainTest = "assetchain_testnet"
	NetworkLocal          = "local"
	NetworkFiat           = "fiat"
)

// IsTerminalStatus reports whether no further transition may leave status.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

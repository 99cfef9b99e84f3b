// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgs

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const obligationNodePrefix = "OB01"

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix(obligationNodePrefix, "Obligation Node")
	})
	if !strings.HasPrefix(key, obligationNodePrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", obligationNodePrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Config and components OB0100XX
	MsgConfigFileMissing        = ffe("OB010000", "Configuration file not found at %s")
	MsgConfigFileReadError      = ffe("OB010001", "Failed to read configuration file %s: %s")
	MsgConfigFileParseError     = ffe("OB010002", "Failed to parse configuration file: %s")
	MsgConfigNodeNameMissing    = ffe("OB010003", "nodeName must be set")
	MsgComponentInitError       = ffe("OB010004", "Error initializing %s")
	MsgComponentStartError      = ffe("OB010005", "Error starting %s")
	MsgConfigTransportInvalid   = ffe("OB010006", "Invalid transport type '%s'")
	MsgConfigLocalPartyMissing  = ffe("OB010007", "Local node '%s' is not in the party registry")
	MsgConfigLocalKeyMismatch   = ffe("OB010008", "Registry key %s for local node '%s' does not match the key derived from the seed %s")
	MsgConfigNotaryKeysDiffer   = ffe("OB010009", "All notary entries in the registry must share one key: '%s' has %s but expected %s")
	MsgConfigNoNotary           = ffe("OB010010", "No notary is configured in the party registry")
	MsgComponentNodeNotStarted  = ffe("OB010011", "Node is not started")
	MsgConfigRegistryDuplicate  = ffe("OB010012", "Duplicate registry entry for party '%s'")
	MsgConfigRegistryEntryError = ffe("OB010013", "Invalid registry entry for party '%s'")

	// Persistence OB0101XX
	MsgPersistenceInvalidType         = ffe("OB010100", "Invalid persistence type: %s")
	MsgPersistenceMissingDSN          = ffe("OB010101", "Missing database connection Data Source Name (DSN) config")
	MsgPersistenceInitFailed          = ffe("OB010102", "Database init failed")
	MsgPersistenceMigrationFailed     = ffe("OB010103", "Database migration failed")
	MsgPersistenceMissingMigrationDir = ffe("OB010104", "Missing database migration directory for autoMigrate")

	// Types OB0102XX
	MsgTypesInvalidHex          = ffe("OB010200", "Invalid hex: %s", http.StatusBadRequest)
	MsgTypesInvalidBytes32      = ffe("OB010201", "Value is not 32 bytes: %d", http.StatusBadRequest)
	MsgTypesInvalidStateRef     = ffe("OB010202", "Invalid state reference '%s' (expected txid:index)", http.StatusBadRequest)
	MsgTypesInvalidAmount       = ffe("OB010203", "Invalid amount '%s' (expected '<quantity> <currency>')", http.StatusBadRequest)
	MsgTypesInvalidCurrency     = ffe("OB010204", "Invalid currency code '%s'", http.StatusBadRequest)
	MsgTypesInvalidPartyKind    = ffe("OB010205", "Invalid party kind '%s'", http.StatusBadRequest)
	MsgTypesInvalidPartyKey     = ffe("OB010206", "Invalid key '%s' for %s party", http.StatusBadRequest)
	MsgTypesWellKnownNameEmpty  = ffe("OB010207", "Well-known party must have a name", http.StatusBadRequest)
	MsgTypesInvalidThreshold    = ffe("OB010208", "Threshold %d is not reachable with member weights totalling %d", http.StatusBadRequest)
	MsgTypesCurrencyMismatch    = ffe("OB010209", "Currency mismatch %s != %s", http.StatusBadRequest)
	MsgTypesDBValueType         = ffe("OB010210", "Cannot scan %T into %T")
	MsgTypesInvalidSignature    = ffe("OB010211", "Invalid signature from key %s")
	MsgTypesThresholdNoMembers  = ffe("OB010212", "Threshold party must have at least one member", http.StatusBadRequest)
	MsgTypesMemberWeightInvalid = ffe("OB010213", "Threshold member %s must have a positive weight", http.StatusBadRequest)
	MsgTypesAmountOverflow      = ffe("OB010214", "Adding %s to %s overflows the quantity range", http.StatusBadRequest)

	// Key manager OB0103XX
	MsgKeysSeedInvalid        = ffe("OB010300", "Seed must be a 32 byte hex value or a BIP-39 mnemonic")
	MsgKeysSeedFileReadFailed = ffe("OB010301", "Failed to read seed file %s")
	MsgKeysDerivationInvalid  = ffe("OB010302", "Invalid BIP-44 derivation path '%s'")
	MsgKeysDerivationTooLarge = ffe("OB010303", "BIP-32 index %d is too large")
	MsgKeysNotLocal           = ffe("OB010304", "Key %s is not held by this node")
	MsgKeysSignFailed         = ffe("OB010305", "Signing with key %s failed")
	MsgKeysLoadFailed         = ffe("OB010306", "Failed to load key material")

	// Registry and identity OB0104XX
	MsgRegistryPartyNotFound      = ffe("OB010400", "Party '%s' not found in registry", http.StatusNotFound)
	MsgRegistryKeyNotFound        = ffe("OB010401", "No well-known party holds key %s", http.StatusNotFound)
	MsgIdentityUnknownParticipant = ffe("OB010402", "Unknown participant %s")
	MsgIdentityCertInvalid        = ffe("OB010403", "Identity certificate for key %s is not signed by well-known party '%s'")
	MsgIdentityCertOwnerUnknown   = ffe("OB010404", "Identity certificate for key %s names unknown owner '%s'")
	MsgIdentityThresholdAmbiguous = ffe("OB010405", "Threshold party members resolve to more than one well-known party (%s, %s)")
	MsgIdentityNoCertificate      = ffe("OB010406", "No identity certificate is held for local key %s")
	MsgIdentityCertNoPossession   = ffe("OB010407", "Identity certificate for key %s is not signed by the key it binds")
	MsgIdentityCertConflict       = ffe("OB010408", "Identity certificate binds key %s to '%s' but it is already bound to '%s'")
	MsgIdentityCertKeyReserved    = ffe("OB010409", "Identity certificate claims key %s which is not a confidential key of the sender")

	// State store OB0105XX
	MsgStateNotFound           = ffe("OB010500", "State not found: %s", http.StatusNotFound)
	MsgStateTransactionMissing = ffe("OB010501", "Transaction not found: %s", http.StatusNotFound)
	MsgStateInvalidStatus      = ffe("OB010502", "Invalid state status '%s'", http.StatusBadRequest)
	MsgStateOutputEmpty        = ffe("OB010503", "Output %d of transaction %s holds no state")
	MsgStateUnconsumedNotFound = ffe("OB010504", "No unconsumed obligation with id %s", http.StatusNotFound)

	// Contracts OB0106XX
	MsgContractNoCommand            = ffe("OB010600", "Transaction has %s states but no %s command")
	MsgContractMultipleCommands     = ffe("OB010601", "Transaction has more than one %s command")
	MsgContractUnknownCommand       = ffe("OB010602", "Unknown command type '%s'")
	MsgContractIssueInputs          = ffe("OB010603", "No obligation inputs may be consumed when issuing")
	MsgContractIssueOutputs         = ffe("OB010604", "Exactly one obligation output must be created when issuing")
	MsgContractAmountNotPositive    = ffe("OB010605", "Obligation amount must be positive: %s")
	MsgContractPaidNotZero          = ffe("OB010606", "A newly issued obligation must have zero paid, found %s")
	MsgContractSameParticipants     = ffe("OB010607", "The lender and borrower cannot be the same party")
	MsgContractMissingSigners       = ffe("OB010608", "Command %s must be signed by %s")
	MsgContractNoopCount            = ffe("OB010609", "Action must consume and emit the same number of obligations: inputs=%d outputs=%d")
	MsgContractNoopEmpty            = ffe("OB010610", "Action must consume at least one obligation")
	MsgContractNoopChanged          = ffe("OB010611", "Action successor for %s changes more than the lender")
	MsgContractNoopUnmatched        = ffe("OB010612", "Action successor %s has no matching input")
	MsgContractRedeemInputs         = ffe("OB010613", "Redeem must consume exactly one obligation, found %d")
	MsgContractRedeemOutputs        = ffe("OB010614", "Redeem may emit at most one obligation, found %d")
	MsgContractRedeemSecretEmpty    = ffe("OB010615", "Redeem must carry a secret")
	MsgContractRedeemUnderpaid      = ffe("OB010616", "Redeem pays %s to the lender but settles %s")
	MsgContractRedeemSuccessor      = ffe("OB010617", "Redeem successor must only increase paid, and stay below amount")
	MsgContractRedeemNotSettled     = ffe("OB010618", "Redeem without a successor must settle the remaining %s")
	MsgContractTimeWindowMissing    = ffe("OB010619", "Obligation transactions must carry a time window")
	MsgContractCashIssueInputs      = ffe("OB010620", "Cash issue cannot consume cash")
	MsgContractCashNotPositive      = ffe("OB010621", "Cash amounts must be positive: %s")
	MsgContractCashUnbalanced       = ffe("OB010622", "Cash move does not balance for %s: in=%d out=%d")
	MsgContractInputStatesMismatch  = ffe("OB010623", "Transaction lists %d inputs but %d resolved input states")
	MsgContractPaidCurrency         = ffe("OB010624", "Paid currency %s differs from amount currency %s")
	MsgContractPaidExceedsAmount    = ffe("OB010625", "Paid %s exceeds amount %s")
	MsgContractParticipantsInvalid  = ffe("OB010626", "Obligation participant is invalid")
	MsgContractTimeWindowInvalid    = ffe("OB010627", "Time window is invalid: from=%s until=%s")
	MsgContractCashIssueNoOutputs   = ffe("OB010628", "Cash issue must create at least one cash state")
	MsgContractObligationCmdNoState = ffe("OB010629", "Command %s has no obligation states to govern")

	// Treasury OB0107XX
	MsgTreasuryNoFunds           = ffe("OB010700", "Borrower has no %s to settle")
	MsgTreasuryInsufficient      = ffe("OB010701", "Borrower has only %s but needs %s to settle")
	MsgTreasuryPledgeTooLarge    = ffe("OB010702", "There's only %s left to settle but %s was pledged")
	MsgTreasurySelectionShort    = ffe("OB010703", "Could only select %s of unspent cash towards %s")
	MsgTreasuryAmountNotPositive = ffe("OB010704", "Cash amount must be positive: %s", http.StatusBadRequest)

	// Transport OB0108XX
	MsgTransportNoHandler        = ffe("OB010800", "No handler registered for message type '%s'")
	MsgTransportUnknownNode      = ffe("OB010801", "Node '%s' has no transport endpoint")
	MsgTransportSendFailed       = ffe("OB010802", "Failed to send message to node '%s'")
	MsgTransportLoopbackNotFound = ffe("OB010803", "Node '%s' is not attached to the loopback hub")
	MsgTransportStartFailed      = ffe("OB010804", "Failed to start transport listener on %s")
	MsgTransportInvalidMessage   = ffe("OB010805", "Invalid transport message: %s")
	MsgTransportStopped          = ffe("OB010806", "Transport manager is stopped")

	// Notary and finality OB0109XX
	MsgNotaryDoubleSpend      = ffe("OB010900", "Input %s was already consumed by transaction %s", http.StatusConflict)
	MsgNotaryTimeWindow       = ffe("OB010901", "Transaction %s is outside its time window (now=%s from=%s until=%s)")
	MsgNotarySignatureMissing = ffe("OB010902", "Transaction %s is missing a valid signature from %s")
	MsgNotaryWrongNotary      = ffe("OB010903", "Transaction %s names notary %s but this notary is %s")
	MsgNotaryIDMismatch       = ffe("OB010904", "Transaction id %s does not match the proposal hash %s")
	MsgNotaryNotEnabled       = ffe("OB010905", "This node does not run a notary")
	MsgNotaryRejected         = ffe("OB010906", "Notary rejected transaction %s: %s")
	MsgNotarySignatureInvalid = ffe("OB010907", "Notary signature on transaction %s is invalid")
	MsgFinalityTimeout        = ffe("OB010908", "Timed out waiting for transaction %s to commit")
	MsgFinalityRejected       = ffe("OB010909", "Transaction %s was rejected: %s")
	MsgFinalityNotParticipant = ffe("OB010910", "Finalised transaction %s does not involve this node")

	// Negotiation OB0110XX
	MsgNegotiationUnexpectedMessage = ffe("OB011000", "Unexpected message type '%s' (expected '%s')")
	MsgNegotiationCounterpartyError = ffe("OB011001", "Counterparty '%s' aborted the negotiation: %s")
	MsgNegotiationBadMessage        = ffe("OB011002", "Malformed '%s' message from '%s'")
	MsgNegotiationUnknownProtocol   = ffe("OB011003", "Unknown protocol '%s'")
	MsgNegotiationInvalidTransition = ffe("OB011004", "Invalid %s transition %s -> %s")
	MsgNegotiationNotFound          = ffe("OB011005", "Negotiation %s not found", http.StatusNotFound)
	MsgNegotiationSignatureRefused  = ffe("OB011006", "Counterparty refused to sign: %s")
	MsgNegotiationSignaturesMissing = ffe("OB011007", "Transaction %s is still missing signatures from %s")
	MsgNegotiationUnexpectedSigner  = ffe("OB011008", "Counterparty returned a signature from unexpected key %s")
	MsgNegotiationTxMismatch        = ffe("OB011009", "Counterparty signed transaction %s but %s was proposed")
	MsgNegotiationIdentityCount     = ffe("OB011010", "Identity swap produced %d identities, expected 2")
	MsgNegotiationSessionClosed     = ffe("OB011011", "Session %s is closed")
	MsgNegotiationCheckpointFailed  = ffe("OB011012", "Failed to write checkpoint for negotiation %s")
	MsgNegotiationResumeFailed      = ffe("OB011013", "Failed to resume negotiation %s")
	MsgNegotiationNoLocalSigner     = ffe("OB011014", "None of the required signers %s are held by this node")
	MsgNegotiationVerifyFailed      = ffe("OB011015", "Transaction %s failed verification")
	MsgNegotiationCounterpartyLocal = ffe("OB011016", "Counterparty '%s' is the local node", http.StatusBadRequest)
	MsgNegotiationCancelled         = ffe("OB011017", "Negotiation %s was cancelled")
	MsgNegotiationTimeout           = ffe("OB011018", "Timed out waiting for negotiation %s, which continues in the background")
	MsgNegotiationNotaryMismatch    = ffe("OB011019", "Proposal names notary %s but the network notary is %s")
	MsgNegotiationNoTransaction     = ffe("OB011020", "Signature request from '%s' holds no transaction")

	// Issuance OB0111XX
	MsgIssueAmountRequired = ffe("OB011100", "Amount is required", http.StatusBadRequest)
	MsgIssueAmountPositive = ffe("OB011101", "Amount must be greater than zero", http.StatusBadRequest)
	MsgIssueLenderRequired = ffe("OB011102", "Lender is required", http.StatusBadRequest)
	MsgIssueLenderIsSelf   = ffe("OB011103", "Cannot issue an obligation to yourself", http.StatusBadRequest)
	MsgIssueRemarkTooLong  = ffe("OB011104", "Remark exceeds %d characters", http.StatusBadRequest)

	// Batch action OB0112XX
	MsgBatchEmpty          = ffe("OB011200", "At least one obligation id is required", http.StatusBadRequest)
	MsgBatchNoneUnconsumed = ffe("OB011201", "None of the %d obligation ids have an unconsumed version")
	MsgBatchTooLarge       = ffe("OB011202", "Batch of %d ids exceeds the maximum page size %d", http.StatusBadRequest)
	MsgBatchDuplicateID    = ffe("OB011203", "Obligation id %s appears more than once", http.StatusBadRequest)

	// Redemption OB0113XX
	MsgRedeemSecretRequired  = ffe("OB011300", "Secret is required", http.StatusBadRequest)
	MsgRedeemStaleSnapshot   = ffe("OB011301", "Proposed input obligation must be unconsumed: proposed %s but current is %s")
	MsgRedeemNotLender       = ffe("OB011302", "Redemption must be initiated by the lender: '%s' is not '%s'")
	MsgRedeemSecretMismatch  = ffe("OB011303", "Secret must be what we proposed")
	MsgRedeemNoRedeemCommand = ffe("OB011304", "Transaction %s carries no redeem command")
	MsgRedeemNotLocalLender  = ffe("OB011305", "This node is not the lender of obligation %s", http.StatusBadRequest)
	MsgRedeemAlreadySettled  = ffe("OB011306", "Obligation %s is already fully settled")
	MsgRedeemAmountPositive  = ffe("OB011307", "Redemption amount must be positive: %s", http.StatusBadRequest)
	MsgRedeemUnknownInvolved = ffe("OB011308", "Transaction state %s involves unknown participant %s")

	// Query OB0114XX
	MsgQueryPageNumber = ffe("OB011400", "Page number must be greater than zero: %d", http.StatusBadRequest)
	MsgQueryPageSize   = ffe("OB011401", "Page size must be between 1 and %d: %d", http.StatusBadRequest)
	MsgQueryPageRange  = ffe("OB011402", "Page %d of size %d is beyond the addressable range", http.StatusBadRequest)

	// JSON/RPC OB0115XX
	MsgJSONRPCInvalidRequest      = ffe("OB011500", "Invalid JSON/RPC request data")
	MsgJSONRPCMissingRequestID    = ffe("OB011501", "Invalid JSON/RPC request. Must set request ID")
	MsgJSONRPCUnsupportedMethod   = ffe("OB011502", "method not supported: %s")
	MsgJSONRPCIncorrectParamCount = ffe("OB011503", "incorrect number of parameters: %s expects %d, received %d")
	MsgJSONRPCInvalidParam        = ffe("OB011504", "invalid parameter %d for %s: %s")
	MsgJSONRPCResultSerialization = ffe("OB011505", "result serialization failed for %s: %s")
	MsgHTTPServerMissingPort      = ffe("OB011506", "HTTP server port must be specified for '%s'")
	MsgHTTPServerStartFailed      = ffe("OB011507", "Failed to start server on '%s'")
	MsgHTTPServerNoWSUpgrade      = ffe("OB011508", "WebSocket upgrade not supported by %T")
	MsgRPCClientInvalidHTTPURL    = ffe("OB011509", "Invalid HTTP URL: %s")
	MsgRPCClientRequestFailed     = ffe("OB011510", "%s failed: %s")

	// CLI OB0116XX
	MsgCLIInvalidArgument = ffe("OB011600", "Invalid argument %s: %s")

	// Toolkit OB0117XX
	MsgContextCanceled           = ffe("OB011700", "Context canceled")
	MsgInflightRequestCancelled  = ffe("OB011701", "Request cancelled after %s")
	MsgFlushWriterQuiescing      = ffe("OB011702", "Writer shutting down")
	MsgFlushWriterOpInvalid      = ffe("OB011703", "Write operation has no write key")
	MsgFlushWriterInvalidResults = ffe("OB011704", "Batch handler returned an invalid result set")
)

package classify

import "github.com/validly/dispatchd/internal/core/domain"

// entry is one row of the static code table.
type entry struct {
	category domain.Category
	message  string
}

// codeTable maps normalized explicit codes to their canonical outcome.
// Keys must be in normalized form (lowercase, underscore-separated);
// lookups go through normalizeCode so "DO-NOT HONOR" and "do_not_honor"
// hit the same row.
var codeTable = map[string]entry{
	// Success — the provider fully validated the item.
	"approved":             {domain.CategorySuccess, "Approved"},
	"transaction_approved": {domain.CategorySuccess, "Transaction approved"},
	"authorized":           {domain.CategorySuccess, "Authorized"},
	"payment_successful":   {domain.CategorySuccess, "Payment successful"},
	"cvv_matched":          {domain.CategorySuccess, "Approved, CVV matched"},

	// Partial — valid but not fully actionable.
	"insufficient_funds": {domain.CategoryPartial, "Valid card, insufficient funds"},
	"otp_required":       {domain.CategoryPartial, "Valid card, OTP verification required"},
	"three_ds_required":  {domain.CategoryPartial, "Valid card, 3DS challenge required"},
	"avs_mismatch":       {domain.CategoryPartial, "Approved, address verification mismatch"},
	"cvv_mismatch":       {domain.CategoryPartial, "Approved, CVV mismatch"},
	"withdrawal_limit":   {domain.CategoryPartial, "Valid card, withdrawal limit exceeded"},
	"activity_limit":     {domain.CategoryPartial, "Valid card, activity limit exceeded"},

	// Rejected — definitive provider/bank decline.
	"do_not_honor":            {domain.CategoryRejected, "Do not honor"},
	"declined":                {domain.CategoryRejected, "Declined"},
	"card_declined":           {domain.CategoryRejected, "Card declined"},
	"generic_decline":         {domain.CategoryRejected, "Generic decline"},
	"expired_card":            {domain.CategoryRejected, "Expired card"},
	"invalid_card_number":     {domain.CategoryRejected, "Invalid card number"},
	"incorrect_number":        {domain.CategoryRejected, "Incorrect card number"},
	"invalid_cvc":             {domain.CategoryRejected, "Invalid security code"},
	"incorrect_cvc":           {domain.CategoryRejected, "Incorrect security code"},
	"invalid_expiry_date":     {domain.CategoryRejected, "Invalid expiry date"},
	"stolen_card":             {domain.CategoryRejected, "Stolen card, pick up"},
	"lost_card":               {domain.CategoryRejected, "Lost card, pick up"},
	"pickup_card":             {domain.CategoryRejected, "Pick up card"},
	"fraudulent":              {domain.CategoryRejected, "Flagged as fraudulent"},
	"restricted_card":         {domain.CategoryRejected, "Restricted card"},
	"transaction_not_allowed": {domain.CategoryRejected, "Transaction not allowed"},
	"currency_not_supported":  {domain.CategoryRejected, "Currency not supported"},
	"call_issuer":             {domain.CategoryRejected, "Call issuer"},
	"account_closed":          {domain.CategoryRejected, "Account closed"},
	"invalid_account":         {domain.CategoryRejected, "Invalid account"},
	"invalid_format":          {domain.CategoryRejected, "Invalid format"},

	// Failure — indeterminate; the provider (or the path to it) broke.
	"processing_error":   {domain.CategoryFailure, "Provider processing error"},
	"issuer_unavailable": {domain.CategoryFailure, "Issuer unavailable"},
	"try_again_later":    {domain.CategoryFailure, "Temporary failure, try again later"},
	"gateway_timeout":    {domain.CategoryFailure, "Gateway timeout"},
	"rate_limited":       {domain.CategoryFailure, "Provider rate limited"},
	"proxy_error":        {domain.CategoryFailure, "Proxy connection error"},
	"captcha_required":   {domain.CategoryFailure, "Captcha challenge blocked the session"},
	"session_expired":    {domain.CategoryFailure, "Provider session expired"},
}

package economy

import (
	"errors"
	"fmt"
)

// Precondition failures are expected and user-facing; none of them is ever
// surfaced as a raw internal error.
var (
	ErrGameNotRunning      = errors.New("the game is not running")
	ErrUserNotFound        = errors.New("user not found")
	ErrRecipeNotFound      = errors.New("recipe not found")
	ErrItemNotFound        = errors.New("item not found")
	ErrMaxLevelReached     = errors.New("access card is already at the maximum level")
	ErrStockExhausted      = errors.New("not enough stock left")
	ErrTransactionConflict = errors.New("transaction conflict, please retry")
	ErrEmptyCatalog        = errors.New("gacha catalog is empty")
	ErrNotPermitted        = errors.New("role is not permitted to perform this action")
	ErrInvalidRequest      = errors.New("invalid request")
)

// InsufficientBalanceError reports a currency shortfall with the exact
// required and available amounts.
type InsufficientBalanceError struct {
	Currency  Currency
	Required  Amount
	Available Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("Insufficient %s. Cost: %s, Balance: %s",
		DisplayName(e.Currency),
		FormatCurrencyAmount(e.Currency, e.Required),
		FormatCurrencyAmount(e.Currency, e.Available))
}

// InsufficientInventoryError reports an item shortfall.
type InsufficientInventoryError struct {
	ItemID    string
	ItemName  string
	Required  int64
	Available int64
}

func (e *InsufficientInventoryError) Error() string {
	name := e.ItemName
	if name == "" {
		name = e.ItemID
	}
	return fmt.Sprintf("Insufficient %s. Required: %s, Owned: %s",
		name, FormatAmount(e.Required), FormatAmount(e.Available))
}

// ConversionError rejects a currency conversion before any mutation is built.
type ConversionError struct {
	From   Currency
	To     Currency
	Reason string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert %s to %s: %s", DisplayName(e.From), DisplayName(e.To), e.Reason)
}

package royalty

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration matches every *ConfigurationError.
	ErrConfiguration = errors.New("royalty: configuration error")
	// ErrSequence matches every *SequenceError.
	ErrSequence = errors.New("royalty: sequence error")
	// ErrInput matches every *InputError.
	ErrInput = errors.New("royalty: input error")

	// ErrStatementNotFound is returned when a statement does not exist.
	ErrStatementNotFound = errors.New("royalty: statement not found")
	// ErrContractNotFound is returned when a contract does not exist for the tenant.
	ErrContractNotFound = errors.New("royalty: contract not found")
	// ErrStatementNotDraft is returned when finalizing a statement that is not a draft.
	ErrStatementNotDraft = errors.New("royalty: statement is not a draft")
	// ErrStatementVoided is returned when operating on a voided statement.
	ErrStatementVoided = errors.New("royalty: statement is voided")
	// ErrInvalidPeriod is returned when a period is empty or inverted.
	ErrInvalidPeriod = errors.New("royalty: invalid period")
)

// Error kinds used as metric labels and in HTTP problem bodies.
const (
	KindConfiguration = "configuration"
	KindSequence      = "sequence"
	KindInput         = "input"
)

// Detail is the context shared by all calculation errors.
type Detail struct {
	ContractID string `json:"contract_id,omitempty"`
	Format     string `json:"format,omitempty"`
	Field      string `json:"field,omitempty"`
	Value      string `json:"value,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func (d Detail) format(kind string) string {
	var b strings.Builder
	b.WriteString("royalty: ")
	b.WriteString(kind)
	b.WriteString(": ")
	b.WriteString(d.Reason)
	if d.ContractID != "" {
		fmt.Fprintf(&b, " contract=%s", d.ContractID)
	}
	if d.Format != "" {
		fmt.Fprintf(&b, " format=%s", d.Format)
	}
	if d.Field != "" {
		fmt.Fprintf(&b, " %s=%s", d.Field, d.Value)
	}
	return b.String()
}

// ConfigurationError reports contract terms the engine cannot price:
// tier gaps or overlaps, ownership percentages off 100, negative outstanding advance.
type ConfigurationError struct{ Detail }

func (e *ConfigurationError) Error() string { return e.format(KindConfiguration) }

// Is matches ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Kind returns KindConfiguration.
func (e *ConfigurationError) Kind() string { return KindConfiguration }

// SequenceError reports a period out of chronological order for a contract.
type SequenceError struct{ Detail }

func (e *SequenceError) Error() string { return e.format(KindSequence) }

// Is matches ErrSequence.
func (e *SequenceError) Is(target error) bool { return target == ErrSequence }

// Kind returns KindSequence.
func (e *SequenceError) Kind() string { return KindSequence }

// InputError reports malformed sales or return records.
type InputError struct{ Detail }

func (e *InputError) Error() string { return e.format(KindInput) }

// Is matches ErrInput.
func (e *InputError) Is(target error) bool { return target == ErrInput }

// Kind returns KindInput.
func (e *InputError) Kind() string { return KindInput }

// ErrorKind returns the calculation error kind of err, or "" for other errors.
func ErrorKind(err error) string {
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ""
}

func configErr(contractID, format, field, value, reason string) error {
	return &ConfigurationError{Detail{ContractID: contractID, Format: format, Field: field, Value: value, Reason: reason}}
}

func sequenceErr(contractID, field, value, reason string) error {
	return &SequenceError{Detail{ContractID: contractID, Field: field, Value: value, Reason: reason}}
}

func inputErr(contractID, format, field, value, reason string) error {
	return &InputError{Detail{ContractID: contractID, Format: format, Field: field, Value: value, Reason: reason}}
}

package errors

// Category is the retry class of a failure as seen by the sync queue.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTemporary
	CategoryPermanent
	CategoryNotFound
	CategoryInvalidInput
)

func (c Category) String() string {
	switch c {
	case CategoryTemporary:
		return "temporary"
	case CategoryPermanent:
		return "permanent"
	case CategoryNotFound:
		return "not_found"
	case CategoryInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// CategoryOf returns the outermost category found in err's chain. Permanent
// wins over Temporary when both are present.
func CategoryOf(err error) Category {
	switch {
	case err == nil:
		return CategoryUnknown
	case IsPermanent(err):
		return CategoryPermanent
	case IsTemporary(err):
		return CategoryTemporary
	case IsNotFound(err):
		return CategoryNotFound
	case IsInvalidInput(err):
		return CategoryInvalidInput
	default:
		return CategoryUnknown
	}
}

// Wrap adds context to err while keeping its category, so a Temporary store
// failure stays Temporary after being wrapped by the queue or the syncer.
// A NotFound keeps its resource and id. Unclassified errors become Permanent.
func Wrap(err error, msg string) error {
	switch CategoryOf(err) {
	case CategoryUnknown:
		if err == nil {
			return nil
		}
		return NewPermanent(msg, err)
	case CategoryTemporary:
		return NewTemporary(msg, err)
	case CategoryNotFound:
		var nfe *NotFoundError
		As(err, &nfe)
		return NewNotFoundWithCause(nfe.resource, nfe.id, err)
	case CategoryInvalidInput:
		var iie *InvalidInputError
		As(err, &iie)
		return NewInvalidInputWithCause(iie.field, msg, err)
	default:
		return NewPermanent(msg, err)
	}
}

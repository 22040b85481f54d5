package optimistic

import "errors"

const DefaultErrorMessage = "Error, please try again."

var ErrMutationInFlight = errors.New("a change is already being saved")

type userMessager interface {
	UserMessage() string
}

// ErrorMessage turns any error into a string fit for display.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var um userMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return DefaultErrorMessage
}

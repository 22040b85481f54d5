package services

import (
	"errors"
	"fmt"
)

type authError struct {
	msg string
}

func (e *authError) Error() string       { return e.msg }
func (e *authError) UserMessage() string { return "unauthorized" }

var (
	// ErrUnauthorized means there is no signed-in session.
	ErrUnauthorized = &authError{msg: "unauthorized: no session"}
	// ErrForbidden means the task does not exist for the signed-in user.
	ErrForbidden = &authError{msg: "unauthorized: task not owned by user"}
)

type credentialsError struct{}

func (credentialsError) Error() string       { return "invalid credentials" }
func (credentialsError) UserMessage() string { return "Incorrect email or password" }

var ErrInvalidCredentials error = credentialsError{}

type emailTakenError struct{}

func (emailTakenError) Error() string       { return "email already in use" }
func (emailTakenError) UserMessage() string { return "Email is already in use" }

var ErrEmailTaken error = emailTakenError{}

var ErrInvalidSession = errors.New("invalid or expired session")

// PersistenceError wraps a failed store call. Its user message never
// includes store details.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s task: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) UserMessage() string {
	return fmt.Sprintf("Could not %s task, please try again.", e.Op)
}

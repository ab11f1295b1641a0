package domain

import "fmt"

// DeliveryError is returned by a Sink when Telegram rejects or fails a call.
type DeliveryError struct {
	Op  string // sendMessage | sendPhoto | sendVideo | sendDocument
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("telegram %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// LookupError is returned by a Directory when a MAX lookup fails.
type LookupError struct {
	Op  string // contact_info | video_play | file_download
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("max %s: %v", e.Op, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

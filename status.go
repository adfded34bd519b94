package kuvert

type Status string

func (s Status) String() string {
	return string(s)
}

// StatusPending the message is waiting to be picked up by the processor, either fresh or waiting for a retry.
const StatusPending Status = "pending"

// StatusScheduled the message was explicitly scheduled for a future point in time.
const StatusScheduled Status = "scheduled"

// StatusProcessing the message has been claimed by a processor tick and is being delivered.
const StatusProcessing Status = "processing"

// StatusSent the transport accepted the message.
const StatusSent Status = "sent"

// StatusFailed every attempt was used without the transport accepting the message.
const StatusFailed Status = "failed"

// StatusCancelled an operator cancelled the message before it was claimed.
const StatusCancelled Status = "cancelled"

var Statuses = []Status{StatusPending, StatusScheduled, StatusProcessing, StatusSent, StatusFailed, StatusCancelled}

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// Cancellable is true for statuses that have not yet been claimed
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusScheduled
}

func (s Status) Retryable() bool {
	return s == StatusFailed || s == StatusCancelled
}

type Kind string

func (k Kind) String() string {
	return string(k)
}

const KindRegistrationConfirmation Kind = "registration_confirmation"
const KindApproval Kind = "approval"
const KindCancellation Kind = "cancellation"
const KindAdminNotification Kind = "admin_notification"
const KindCampaign Kind = "campaign"

var Kinds = []Kind{KindRegistrationConfirmation, KindApproval, KindCancellation, KindAdminNotification, KindCampaign}

func (k Kind) Valid() bool {
	for _, kk := range Kinds {
		if k == kk {
			return true
		}
	}
	return false
}

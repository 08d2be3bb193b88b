package logger

import (
	"log/slog"
	"strconv"

	"github.com/google/uuid"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// CustomerID records the customer identifier under the key "customer_id".
func CustomerID(id uuid.UUID) slog.Attr {
	return slog.String("customer_id", id.String())
}

// SubscriptionID records the subscription identifier under the key "subscription_id".
func SubscriptionID(id uuid.UUID) slog.Attr {
	return slog.String("subscription_id", id.String())
}

// InvoiceNumber records the public invoice number under the key "invoice_number".
// If number is empty, it returns an empty Attr.
func InvoiceNumber(number string) slog.Attr {
	if number == "" {
		return slog.Attr{}
	}
	return slog.String("invoice_number", number)
}

// Tier records a plan tier under the key "tier".
func Tier(tier string) slog.Attr {
	return slog.String("tier", tier)
}

// Job records a scheduled job name under the key "job".
func Job(name string) slog.Attr {
	return slog.String("job", name)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

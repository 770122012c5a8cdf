package workflow

// Variant selects how a notification is displayed.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a short transient message for the user.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Notifier displays notifications. Delivery is fire-and-forget.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }

var (
	noSelectionNotice = Notification{
		Title:       "No image selected",
		Description: "Please select a brain scan image to analyze",
		Variant:     VariantDestructive,
	}
	failedNotice = Notification{
		Title:       "Analysis Failed",
		Description: "There was an error analyzing the image. Please try again.",
		Variant:     VariantDestructive,
	}
)

func completedNotice(prediction string, tumor bool) Notification {
	n := Notification{
		Title:       "Analysis Complete",
		Description: "Result: " + prediction,
		Variant:     VariantDefault,
	}
	if tumor {
		n.Variant = VariantDestructive
	}
	return n
}

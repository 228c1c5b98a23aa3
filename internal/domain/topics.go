package domain

// OthersLabel is the catch-all label assigned when no topic is confident
// enough. It is never sent to the classifier and never gets a collection.
const OthersLabel = "others"

// ProfileCollection is the collection holding one weight vector per pubkey.
const ProfileCollection = "nostr-user-weights"

// TopicLabels is the fixed set of candidate labels sent to the classifier.
// Each label has its own collection in the index engine.
var TopicLabels = []string{
	"fashion",
	"beauty",
	"outdoors",
	"arts",
	"anime",
	"comics",
	"business",
	"finance",
	"food",
	"travel",
	"entertainment",
	"music",
	"gaming",
	"careers",
	"family",
	"relationships",
	"fitness",
	"sports",
	"technology",
	"science",
	"bitcoin",
	"porn",
	"programming",
	"politics",
	"meme",
	"press",
	"military",
}

// ConfidenceThreshold returns the minimum top score (exclusive) a label needs
// to win over OthersLabel when choosing among n labels.
func ConfidenceThreshold(n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1.5 / float64(n)
}

// IsTopicLabel reports whether label is one of the real topic labels.
func IsTopicLabel(label string) bool {
	for _, l := range TopicLabels {
		if l == label {
			return true
		}
	}
	return false
}

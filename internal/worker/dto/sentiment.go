package dto

const (
	SentimentLabelPositive = "positive"
	SentimentLabelNegative = "negative"
	SentimentLabelNeutral  = "neutral"
)

// SentimentResult is the label/score pair produced by the sentiment
// collaborator for one piece of text.
type SentimentResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

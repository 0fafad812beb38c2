package model

// ResultRecord is the outcome of one dice session.
// The zero value is used when a run produced no data.
type ResultRecord struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Profit int `json:"profit"`
}

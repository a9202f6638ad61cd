package vectorstore

type Record struct {
	Id      string
	Vector  []float32
	Payload map[string]any
}

type ScoredRecord struct {
	Record
	Score float32
}

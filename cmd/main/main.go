// Command markovian trains first-order Markov chains from text or raw bytes,
// stores them in SQLite and generates sequences from them.
//
// Usage:
//
//	# Train a word model from a file (or stdin)
//	markovian train poems ./poems.txt
//
//	# Generate five sentences of 5 to 15 words
//	markovian generate poems --count 5 --min 5 --max 15
//
//	# Show the most likely tokens in the long run
//	markovian steady poems --top 10
//
//	# Serve the HTTP API
//	markovian serve --config ./config.json
package main

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	Execute()
}

// Transform runs the rule engine against the configured store from the
// command line.
//
// Usage:
//
//	# Transform every unprocessed line
//	transform run --config config.yaml
//
//	# Add a rule and a line, then run
//	transform rules add --order 1 --source-column text \
//	    --source-pattern 'banana(?P<n>\d+)' --output-column text \
//	    --output-pattern 'Banana number=$n'
//	transform lines add --field text=banana123
//	transform run
//
//	# Inspect the results
//	transform outputs list --format json
package main

func main() {
	Execute()
}

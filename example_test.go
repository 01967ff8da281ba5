package redliner_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/redliner"
	"github.com/aretw0/redliner/pkg/config"
	"github.com/aretw0/redliner/pkg/review"
)

func Example() {
	eng, err := redliner.New(config.Default(), redliner.WithInlineRuns())
	if err != nil {
		log.Fatal(err)
	}
	defer eng.Close(context.Background())

	ctx := context.Background()
	sess, err := eng.Review().Submit(ctx, review.Upload{
		UserID:   "legal-team",
		Filename: "consulting.txt",
		Data: []byte(`1. Termination
Either party may terminate this Agreement at any time.

2. Payment
Invoices are payable within thirty days.
`),
	}, true)
	if err != nil {
		log.Fatal(err)
	}

	results, err := eng.Review().Results(ctx, sess.ID)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(sess.Status)
	fmt.Println(len(results.Extraction.Clauses), "clauses")
	// Output:
	// completed
	// 2 clauses
}

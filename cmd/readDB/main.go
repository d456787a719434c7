// Command readDB dumps the keys of a wiki data directory grouped by
// entity prefix, for poking at a store offline.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

func main() {
	dataDir := flag.String("data", "./data", "badger data directory")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dataDir).WithReadOnly(true))
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	counts := map[string]int{}
	var total int

	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			prefix := key
			if i := strings.IndexByte(key, ':'); i >= 0 {
				prefix = key[:i+1]
			}
			counts[prefix]++
			total++
			fmt.Printf("Key: %s\n", key)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	for prefix, n := range counts {
		fmt.Printf("%-20s %d\n", prefix, n)
	}
	fmt.Printf("Total number of keys: %d\n", total)
}

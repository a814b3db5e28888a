package kvstore

import bolt "go.etcd.io/bbolt"

// Build writes a fresh bbolt-backed index store at path from records,
// used by tests (and would be used by a reindex tool, out of scope
// here) to construct fixture stores without depending on a real node.
func Build(path string, records map[string][]byte) error {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(indexBucket)
		if err != nil {
			return err
		}
		for k, v := range records {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

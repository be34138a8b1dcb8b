package scan

// Candidate is an enumerated file with its computed fingerprint.
type Candidate struct {
	FileEntry
	Fingerprint string
}

// Changes is the classification of the candidate set against recorded state.
// Every enumerated path and every recorded path lands in exactly one bucket.
type Changes struct {
	Added     []Candidate
	Modified  []Candidate
	Unchanged []Candidate
	// Deleted holds relative paths of files recorded in metadata but absent
	// from disk, plus files that could not be fingerprinted.
	Deleted []string
	// Warnings records files that were classified deleted because their
	// fingerprint could not be computed.
	Warnings []PathError
}

// Classify compares enumerated files against the recorded path→fingerprint
// mapping. A file that cannot be fingerprinted is classified deleted rather
// than silently skipped, so its stale vectors are removed.
func Classify(entries []FileEntry, recorded map[string]string) Changes {
	var ch Changes
	onDisk := make(map[string]bool, len(entries))

	for _, entry := range entries {
		onDisk[entry.RelPath] = true

		fp, err := Fingerprint(entry.AbsPath)
		if err != nil {
			ch.Warnings = append(ch.Warnings, PathError{Path: entry.AbsPath, Err: err})
			if _, known := recorded[entry.RelPath]; known {
				ch.Deleted = append(ch.Deleted, entry.RelPath)
			}
			continue
		}

		cand := Candidate{FileEntry: entry, Fingerprint: fp}
		prev, known := recorded[entry.RelPath]
		switch {
		case !known:
			ch.Added = append(ch.Added, cand)
		case prev != fp:
			ch.Modified = append(ch.Modified, cand)
		default:
			ch.Unchanged = append(ch.Unchanged, cand)
		}
	}

	for relPath := range recorded {
		if !onDisk[relPath] {
			ch.Deleted = append(ch.Deleted, relPath)
		}
	}
	return ch
}

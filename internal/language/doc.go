// Package language normalizes the target-language identifiers accepted on
// the command line into ISO 639-1 codes and resolves display names.
package language

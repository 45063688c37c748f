// Package classifier implements the argument classifier (spec component C1):
// splitting an action's argv into startup arguments and flag-file references.
package classifier

import (
	"fmt"
	"regexp"

	"github.com/cuemby/kiln/pkg/failure"
)

// flagFileRef matches the syntactic shape of a flag-file reference:
// "@path", "-flagfile=path", or "--flagfile=path". The "@@" escape is
// handled separately so this regex can be reused as a pure syntactic
// predicate.
var flagFileRef = regexp.MustCompile(`^(@|-{1,2}flagfile=).+`)

var escapedAt = regexp.MustCompile(`^@@`)

const persistentWorkerFlag = "--persistent_worker"

// IsFlagFileReference reports whether arg is a flag-file reference per the
// grammar above (and is not the "@@" escaped-literal form).
func IsFlagFileReference(arg string) bool {
	return flagFileRef.MatchString(arg) && !escapedAt.MatchString(arg)
}

// Result is the output of Classify.
type Result struct {
	// StartupArgs is argv's non-flag-file arguments, in original order,
	// followed by "--persistent_worker" and any mnemonic-specific extras.
	StartupArgs []string
	// FlagFileArgs is argv's flag-file references, in original order.
	FlagFileArgs []string
}

// Classify partitions argv per spec §4.1. extras maps a mnemonic to extra
// startup flags appended, in order, after "--persistent_worker".
func Classify(argv []string, mnemonic string, extras map[string][]string) (Result, error) {
	var res Result
	for _, arg := range argv {
		if IsFlagFileReference(arg) {
			res.FlagFileArgs = append(res.FlagFileArgs, arg)
		} else {
			res.StartupArgs = append(res.StartupArgs, arg)
		}
	}

	if len(res.FlagFileArgs) == 0 {
		return Result{}, &failure.Failure{
			Kind:    failure.NoFlagfile,
			Message: fmt.Sprintf("no flag-file argument found for mnemonic %q", mnemonic),
		}
	}

	res.StartupArgs = append(res.StartupArgs, persistentWorkerFlag)
	if extra, ok := extras[mnemonic]; ok {
		res.StartupArgs = append(res.StartupArgs, extra...)
	}

	return res, nil
}

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/quatton/qmag/pkg/qdriver"
	"github.com/quatton/qmag/pkg/qerr"
)

// exitIfError prints err with any remediation hint and exits. A run that
// exited non-zero passes its exit code through.
func exitIfError(err error) {
	if err == nil {
		return
	}

	fmt.Fprintln(os.Stderr, errorStyle.Render("error:"), err)
	if hint := qerr.HintOf(err); hint != "" {
		fmt.Fprintln(os.Stderr, hintStyle.Render("hint: "+hint))
	}

	var de *qdriver.DriveError
	if errors.As(err, &de) {
		fmt.Fprintln(os.Stderr, hintStyle.Render("job dir: "+de.JobDir))
	}

	if exit, ok := qerr.AsExit(err); ok && exit.ExitCode > 0 && exit.ExitCode < 126 {
		os.Exit(exit.ExitCode)
	}
	os.Exit(1)
}

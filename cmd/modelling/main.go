// Command modelling trains the heart disease classifiers, records every run
// in the tracking store and writes the model comparison files.
//
//	modelling --model_type all --data Heart_Disease_preprocessing.csv
//	modelling --model_type Random_Forest --tracking-uri sqlite:///mlflow.db
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/YuminosukeSato/mlproject/pkg/log"
)

func main() {
	// フラグ解析前の失敗も JSON で stderr に出す。run で --log-level に置き換わる
	if err := log.SetupLogger("info"); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("modelling failed", log.ErrAttr(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

const rule = "======================================================================"

func banner(w io.Writer, lines ...string) {
	fmt.Fprintln(w, rule)
	for _, l := range lines {
		fmt.Fprintln(w, l)
	}
	fmt.Fprintln(w, rule)
}

func quoteList(names []string) string {
	return strings.Join(names, ", ")
}

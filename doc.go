// Package totalexport mirrors the designs of a remote design hub into a local
// directory tree. Every hub, project, folder and design becomes a directory;
// each design is saved as its native archive plus STEP files per component
// and DXF files per sketch (STL and IGES on request).
//
// The CLI lives in cmd/total-export; this root package exposes the same run
// as a Go API.
//
// # Import
//
// The module path contains a hyphen but Go package names cannot, so the
// package is named totalexport:
//
//	import "github.com/kataras/total-export" // package totalexport
//
// # Quick start
//
//	result, err := totalexport.Run(ctx, totalexport.Options{
//	    OutputDir: "/srv/backup/designs",
//	    APIURL:    "https://hub.example.com/api",
//	    Token:     os.Getenv("TOTAL_EXPORT_TOKEN"),
//	    Overwrite: decision.PolicyNever,
//	    Resume:    config.ResumeYes,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Message)
//
// # Incremental runs
//
// A design is only exported again when its archive is missing, the overwrite
// policy is "always", or the hub reports a modification time newer than the
// local archive. Projects that were fully exported are recorded in
// project_progress.tsv and skipped on the next run unless the operator
// chooses to start over.
//
// # Failures
//
// Every remote call runs under the retry protocol: on failure the operator
// (see [prompt.Prompter]) decides whether to retry after a cooldown or give
// up. Giving up on a single design counts an issue and moves on; giving up on
// the run as a whole cancels it. The log is written to output.log under the
// output directory.
//
// # Logging
//
// Pass a [Logger] implementation in [Options.Logger] to receive progress
// messages on the console. A nil Logger only writes output.log.
package totalexport

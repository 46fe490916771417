package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dukex/leadflow/pkg/catalog"
)

func listCatalog(w io.Writer) error {
	templates, err := catalog.Load()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tNODES\tNAME")

	for _, template := range templates {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", template.ID, template.Category, len(template.Nodes), template.Name)
	}

	return tw.Flush()
}

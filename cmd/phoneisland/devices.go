package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"phone_island/native/internal/logging"
	"phone_island/native/internal/media"
)

func devicesCmd() *cobra.Command {
	var pcmList string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the audio devices the media layer reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			alsa := media.NewALSA(logging.Discard())
			if pcmList != "" {
				alsa.PCMList = pcmList
			}
			list, err := alsa.EnumerateDevices()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tID\tLABEL")
			for _, d := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.Kind, d.ID, d.Label)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&pcmList, "pcm-list", "", "kernel PCM list to read (default "+media.DefaultPCMList+")")
	return cmd
}

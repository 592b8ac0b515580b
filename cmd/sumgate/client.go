package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jacktea/sumgate/pkg/checksum"
	"github.com/jacktea/sumgate/pkg/server/grpcapi"
	"github.com/jacktea/sumgate/pkg/validator"
)

var errMismatch = errors.New("checksum mismatch")

type validateOptions struct {
	Addr    string
	Bucket  string
	Expect  *string
	Timeout time.Duration
	Log     logr.Logger
}

// validationOutput mirrors the DataResponse field names.
type validationOutput struct {
	Success         bool   `json:"success"`
	Checksum        string `json:"checksum"`
	ObjectPath      string `json:"object_path"`
	ValidationError string `json:"validation_error"`
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Send a file to a running gateway for validation and storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := validateOptions{
				Addr:    viper.GetString("validate.addr"),
				Bucket:  viper.GetString("validate.bucket"),
				Timeout: viper.GetDuration("validate.timeout"),
				Log:     application.logger,
			}
			if expect := viper.GetString("validate.expect"); expect != "" || cmd.Flags().Changed("expect") {
				opts.Expect = &expect
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			return doValidate(application.ctx, cmd.OutOrStdout(), data, opts)
		},
	}
	flags := cmd.Flags()
	flags.String("addr", "localhost:50051", "gateway address")
	flags.String("bucket", "", "destination bucket")
	flags.String("expect", "", "expected SHA-256 checksum (hex)")
	flags.Duration("timeout", 30*time.Second, "deadline for the call")
	bindConfig("validate.addr", flags.Lookup("addr"))
	bindConfig("validate.bucket", flags.Lookup("bucket"))
	bindConfig("validate.expect", flags.Lookup("expect"))
	bindConfig("validate.timeout", flags.Lookup("timeout"))
	return cmd
}

func doValidate(ctx context.Context, out io.Writer, data []byte, opt validateOptions) error {
	if opt.Expect != nil && !checksum.Valid(*opt.Expect) {
		opt.Log.Info("expected checksum is not lowercase hex SHA-256, the gateway will report a mismatch", "expect", *opt.Expect)
	}
	client, err := grpcapi.Dial(opt.Addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opt.Timeout)
		defer cancel()
	}
	resp, err := client.ValidateData(ctx, validator.Request{
		Data:             data,
		ExpectedChecksum: opt.Expect,
		Bucket:           opt.Bucket,
	})
	if err != nil {
		return err
	}
	if err := writeJSON(out, validationOutput(resp)); err != nil {
		return err
	}
	if !resp.Success {
		return errMismatch
	}
	return nil
}

type checksumOutput struct {
	Checksum   string `json:"checksum"`
	Size       int64  `json:"size"`
	ObjectName string `json:"object_name"`
}

func newChecksumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checksum <file|->",
		Short: "Print the checksum and object name a payload would be stored under",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doChecksum(cmd.InOrStdin(), cmd.OutOrStdout(), args[0])
		},
	}
}

func doChecksum(stdin io.Reader, out io.Writer, name string) error {
	r, closeFn, err := openInput(stdin, name)
	if err != nil {
		return err
	}
	defer closeFn()
	sum, size, err := checksum.SumReader(r)
	if err != nil {
		return err
	}
	return writeJSON(out, checksumOutput{
		Checksum:   sum,
		Size:       size,
		ObjectName: checksum.ObjectName(sum),
	})
}

func openInput(stdin io.Reader, name string) (io.Reader, func(), error) {
	if name == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, func() { f.Close() }, nil
}

func readInput(stdin io.Reader, name string) ([]byte, error) {
	r, closeFn, err := openInput(stdin, name)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return io.ReadAll(r)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

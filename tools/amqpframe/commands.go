package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/spf13/cobra"
)

func encodeCmd() *cobra.Command {
	var (
		channel  uint16
		frameMax int
		rawArgs  string
	)

	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode a frame and print it as hex",
	}
	cmd.PersistentFlags().Uint16VarP(&channel, "channel", "c", 0, "channel number")
	cmd.PersistentFlags().IntVar(&frameMax, "frame-max", protocol.DefaultFrameMax, "negotiated frame max")

	method := &cobra.Command{
		Use:   "method <name>",
		Short: "Encode a method frame, e.g. connectionClose",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := protocol.Default().MethodByName(args[0])
			if err != nil {
				return err
			}
			table, err := parseArgs(rawArgs)
			if err != nil {
				return err
			}
			data, err := codec.NewSerializer(frameMax).EncodeMethod(channel, &codec.MethodFrame{Method: target, Args: table})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(data))
			return nil
		},
	}
	method.Flags().StringVarP(&rawArgs, "args", "a", "{}", "method arguments as a JSON object")

	heartbeat := &cobra.Command{
		Use:   "heartbeat",
		Short: "Encode a heartbeat frame",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(codec.NewSerializer(frameMax).EncodeHeartbeat()))
		},
	}

	var properties string
	content := &cobra.Command{
		Use:   "content <body>",
		Short: "Encode a basic content header followed by its body frames",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := parseArgs(properties)
			if err != nil {
				return err
			}
			serializer := codec.NewSerializer(frameMax)
			body := []byte(args[0])
			header, err := serializer.EncodeHeader(channel, &codec.ContentHeader{
				Class:      protocol.BasicClass,
				BodySize:   uint64(len(body)),
				Properties: table,
			})
			if err != nil {
				return err
			}
			frames, err := serializer.EncodeBody(channel, &codec.ContentBody{Data: body})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, hex.EncodeToString(header))
			for _, frame := range frames {
				fmt.Fprintln(out, hex.EncodeToString(frame))
			}
			return nil
		},
	}
	content.Flags().StringVarP(&properties, "properties", "p", "{}", "basic properties as a JSON object")

	cmd.AddCommand(method, heartbeat, content)
	return cmd
}

func decodeCmd() *cobra.Command {
	var frameMax int

	cmd := &cobra.Command{
		Use:   "decode [hex...]",
		Short: "Decode hex frames given as arguments or on stdin",
		Long: `Decode concatenates its hex input, whitespace ignored, and prints
every complete frame found in it. A protocol header prefix is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var input string
			if len(args) > 0 {
				input = strings.Join(args, "")
			} else {
				raw, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				input = string(raw)
			}
			data, err := hex.DecodeString(strings.Join(strings.Fields(input), ""))
			if err != nil {
				return fmt.Errorf("invalid hex input: %w", err)
			}
			data = bytes.TrimPrefix(data, protocol.ProtocolHeader)

			out := cmd.OutOrStdout()
			var decodeErr error
			parser := codec.NewParser(nil, func(channel uint16, frame codec.Frame, err error) {
				if err != nil {
					decodeErr = errors.Join(decodeErr, fmt.Errorf("channel %d: %w", channel, err))
					return
				}
				fmt.Fprintln(out, describe(channel, frame))
			})
			parser.SetMaxFrameSize(frameMax)
			parser.Execute(data)
			if pending := parser.Buffered(); pending > 0 {
				decodeErr = errors.Join(decodeErr, fmt.Errorf("%d trailing bytes do not form a frame", pending))
			}
			return decodeErr
		},
	}
	cmd.Flags().IntVar(&frameMax, "frame-max", protocol.DefaultFrameMax, "negotiated frame max")
	return cmd
}

func methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods [class]",
		Short: "List the methods of every class, or of one class",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, class := range protocol.Default().Classes() {
				if len(args) == 1 && class.Name != args[0] {
					continue
				}
				for _, method := range class.Methods {
					fields := make([]string, 0, len(method.Fields))
					for _, field := range method.Fields {
						fields = append(fields, field.Name+":"+field.Domain.String())
					}
					fmt.Fprintf(out, "%-28s %d,%d %s\n", method.Name, method.ClassID, method.MethodID, strings.Join(fields, " "))
				}
			}
		},
	}
}

// describe renders one decoded frame on a single line.
func describe(channel uint16, frame codec.Frame) string {
	switch f := frame.(type) {
	case *codec.MethodFrame:
		return fmt.Sprintf("method ch=%d %s %s", channel, f.Method.Name, toJSON(f.Args))
	case *codec.ContentHeader:
		return fmt.Sprintf("header ch=%d class=%s size=%d %s", channel, f.Class.Name, f.BodySize, toJSON(f.Properties))
	case *codec.ContentBody:
		return fmt.Sprintf("body ch=%d len=%d %q", channel, len(f.Data), f.Data)
	case *codec.Heartbeat:
		return fmt.Sprintf("heartbeat ch=%d", channel)
	default:
		return fmt.Sprintf("unknown ch=%d %T", channel, frame)
	}
}

func toJSON(table codec.Table) string {
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Sprintf("%v", map[string]any(table))
	}
	return string(data)
}

// parseArgs reads a JSON object into a table. Numbers become int64 so
// the encoder can range-check them against each field's domain.
func parseArgs(raw string) (codec.Table, error) {
	decoder := json.NewDecoder(strings.NewReader(raw))
	decoder.UseNumber()
	var object map[string]any
	if err := decoder.Decode(&object); err != nil {
		return nil, fmt.Errorf("invalid JSON arguments: %w", err)
	}
	converted, err := convertValue(object)
	if err != nil {
		return nil, err
	}
	table, _ := converted.(codec.Table)
	if table == nil {
		table = codec.Table{}
	}
	return table, nil
}

func convertValue(value any) (any, error) {
	switch v := value.(type) {
	case json.Number:
		if number, err := v.Int64(); err == nil {
			return number, nil
		}
		return v.Float64()
	case map[string]any:
		table := make(codec.Table, len(v))
		for key, item := range v {
			converted, err := convertValue(item)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			table[key] = converted
		}
		return table, nil
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			converted, err := convertValue(item)
			if err != nil {
				return nil, err
			}
			items[i] = converted
		}
		return items, nil
	default:
		return v, nil
	}
}

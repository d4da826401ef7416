package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosuri/uitable"
	"gopkg.in/yaml.v3"

	"github.com/polestar-community/polestar-go/pkg/account"
	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/sensor"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrUnknownVehicle  = errors.New("vehicle not found in account")
	ErrNoValue         = errors.New("no current value")
)

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

func execute(ctx context.Context, acct *account.Account, w io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, acct, w, keywords)
	}

	// Print command-specific help
	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(w, args[0])
	}
	return err
}

func (c *Command) Usage(w io.Writer, name string) {
	fmt.Fprintf(w, "Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " [")
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, " %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Fprintf(w, " ]")
	}
	fmt.Fprintf(w, "\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Fprintf(w, "    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

// formatValue renders a cached value for display.
func formatValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "-"
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprint(value)
	}
	return string(encoded)
}

func formatTime(t time.Time, ok bool) string {
	if !ok || t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func vehicleArg(acct *account.Account, args map[string]string) (*account.Vehicle, error) {
	vehicle, ok := acct.Vehicle(args["VIN"])
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVehicle, args["VIN"])
	}
	return vehicle, nil
}

func newTable() *uitable.Table {
	table := uitable.New()
	table.MaxColWidth = 60
	return table
}

var vinArgument = Argument{name: "VIN", help: "Vehicle Identification Number"}

var commands = map[string]*Command{
	"vins": &Command{
		help: "List the vehicles in the account",
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			table := newTable()
			table.AddRow("VIN", "MODEL", "YEAR", "REGISTRATION", "SOFTWARE")
			for _, vin := range acct.VINs() {
				v, _ := acct.Vehicle(vin)
				table.AddRow(v.VIN, v.ModelName(), v.ModelYear(), v.RegistrationNo(), v.SoftwareVersion())
			}
			fmt.Fprintln(w, table)
			return nil
		},
	},
	"info": &Command{
		help: "Print the inventory record of a vehicle as JSON",
		args: []Argument{vinArgument},
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			vehicle, err := vehicleArg(acct, args)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(vehicle.Data, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(encoded))
			return nil
		},
	},
	"refresh": &Command{
		help: "Fetch the latest odometer and battery data for a vehicle",
		args: []Argument{vinArgument},
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			vehicle, err := vehicleArg(acct, args)
			if err != nil {
				return err
			}
			acct.Refresh(ctx, vehicle.VIN)
			for _, endpoint := range []string{graphql.BaseURL, graphql.BaseURLV2} {
				if code, ok := acct.LastCallStatus(endpoint); ok && code != 200 {
					return fmt.Errorf("refresh incomplete: %s returned %d", endpoint, code)
				}
			}
			fmt.Fprintf(w, "Next update possible at %s\n", formatTime(acct.NextUpdate(), true))
			return nil
		},
	},
	"get": &Command{
		help: "Print a cached field",
		args: []Argument{
			vinArgument,
			Argument{name: "KIND", help: "One of: info, odometer, battery"},
			Argument{name: "PATH", help: "'/'-separated field path, e.g. eventUpdatedTimestamp/iso"},
		},
		optional: []Argument{
			Argument{name: "SKIP_TTL", help: "true to return stale values"},
		},
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			vehicle, err := vehicleArg(acct, args)
			if err != nil {
				return err
			}
			kind, err := cache.ParseKind(args["KIND"])
			if err != nil {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			skipTTL := false
			if value, ok := args["SKIP_TTL"]; ok {
				if skipTTL, err = strconv.ParseBool(value); err != nil {
					return fmt.Errorf("%w: invalid SKIP_TTL", ErrCommandLineArgs)
				}
			}
			value, status := acct.GetValue(vehicle.VIN, kind, args["PATH"], skipTTL)
			switch status {
			case cache.Found:
				fmt.Fprintln(w, formatValue(value))
				return nil
			case cache.Empty:
				fmt.Fprintln(w, "-")
				return nil
			}
			return fmt.Errorf("%w for %s/%s", ErrNoValue, kind, args["PATH"])
		},
	},
	"sensors": &Command{
		help: "Print every sensor of a vehicle",
		args: []Argument{vinArgument},
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			vehicle, err := vehicleArg(acct, args)
			if err != nil {
				return err
			}
			table := newTable()
			table.AddRow("SENSOR", "VALUE", "UNIT", "STATUS")
			for _, key := range sensor.Keys() {
				s, _ := sensor.Lookup(key)
				value, status := sensor.Read(acct, vehicle.VIN, s)
				unit := s.Unit
				if unit == "" {
					unit = "-"
				}
				table.AddRow(s.Key, formatValue(value), unit, status)
			}
			fmt.Fprintln(w, table)
			return nil
		},
	},
	"status": &Command{
		help: "Print API connection status",
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			table := newTable()
			table.AddRow("connected:", acct.Connected())
			table.AddRow("refresh:", acct.State())
			table.AddRow("token expires:", formatTime(acct.TokenExpiry()))
			table.AddRow("next update:", formatTime(acct.NextUpdate(), true))
			endpoints := []string{graphql.BaseURL, graphql.BaseURLV2, graphql.AuthURL}
			sort.Strings(endpoints)
			for _, endpoint := range endpoints {
				status := "-"
				if code, ok := acct.LastCallStatus(endpoint); ok {
					status = strconv.Itoa(code)
				}
				table.AddRow(endpoint+":", status)
			}
			fmt.Fprintln(w, table)
			return nil
		},
	},
	"dump": &Command{
		help: "Print the cache",
		optional: []Argument{
			Argument{name: "FORMAT", help: "json (default) or yaml"},
		},
		handler: func(ctx context.Context, acct *account.Account, w io.Writer, args map[string]string) error {
			switch format := strings.ToLower(args["FORMAT"]); format {
			case "", "json":
				return acct.Dump(w)
			case "yaml", "yml":
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				if err := enc.Encode(acct.Snapshot()); err != nil {
					return err
				}
				return enc.Close()
			default:
				return fmt.Errorf("%w: unknown format '%s'", ErrCommandLineArgs, format)
			}
		},
	},
}

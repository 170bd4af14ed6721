package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable the programs read
const EnvPrefix = "MONPUBSUB"

// opt is a single command-line option, also read from MONPUBSUB_<FLAG>
type opt struct {
	destP any // pointer to the destination
	flag  string
	dflt  any
	desc  string
}

func newOpt(destP any, flag string, dflt any, desc string) opt {
	return opt{destP: destP, flag: flag, dflt: dflt, desc: desc}
}

// newViper returns a viper reading MONPUBSUB_ variables, "-" mapped to "_"
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	return v
}

// bindOptions adds opts to cmd and registers them with v. Destinations take
// the environment value now; flags given on the command line override it
// when cobra parses them.
func bindOptions(v *viper.Viper, cmd *cobra.Command, opts []opt) {
	for _, o := range opts {
		switch destP := o.destP.(type) {
		case *string:
			var d string
			if o.dflt != nil {
				d = o.dflt.(string)
			}
			cmd.Flags().StringVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, o.flag, cmd)
			*destP = v.GetString(o.flag)
		case *int:
			var d int
			if o.dflt != nil {
				d = o.dflt.(int)
			}
			cmd.Flags().IntVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, o.flag, cmd)
			*destP = v.GetInt(o.flag)
		case *uint32:
			var d uint32
			if o.dflt != nil {
				d = o.dflt.(uint32)
			}
			cmd.Flags().Uint32Var(destP, o.flag, d, o.desc)
			mustBindPFlag(v, o.flag, cmd)
			*destP = v.GetUint32(o.flag)
		case *time.Duration:
			var d time.Duration
			if o.dflt != nil {
				d = o.dflt.(time.Duration)
			}
			cmd.Flags().DurationVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, o.flag, cmd)
			*destP = v.GetDuration(o.flag)
		case *[]string:
			var d []string
			if o.dflt != nil {
				d = o.dflt.([]string)
			}
			cmd.Flags().StringSliceVar(destP, o.flag, d, o.desc)
			mustBindPFlag(v, o.flag, cmd)
			*destP = v.GetStringSlice(o.flag)
		default:
			panic(fmt.Errorf("unknown destination type %T", o.destP))
		}
	}
}

func mustBindPFlag(v *viper.Viper, key string, cmd *cobra.Command) {
	if err := v.BindPFlag(key, cmd.Flags().Lookup(key)); err != nil {
		panic(err)
	}
}

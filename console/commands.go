package console

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"fastsd/core"
	"fastsd/settings"
)

// setters maps :set keys to settings fields.
var setters = map[string]func(a *settings.AppSettings, v string) error{
	"width": func(a *settings.AppSettings, v string) error {
		return parseInt(v, &a.LCMDiffusionSetting.ImageWidth)
	},
	"height": func(a *settings.AppSettings, v string) error {
		return parseInt(v, &a.LCMDiffusionSetting.ImageHeight)
	},
	"steps": func(a *settings.AppSettings, v string) error {
		return parseInt(v, &a.LCMDiffusionSetting.InferenceSteps)
	},
	"images": func(a *settings.AppSettings, v string) error {
		return parseInt(v, &a.LCMDiffusionSetting.NumberOfImages)
	},
	"guidance": func(a *settings.AppSettings, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%q is not a number", v)
		}
		a.LCMDiffusionSetting.GuidanceScale = f
		return nil
	},
	"seed": func(a *settings.AppSettings, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%q is not an integer", v)
		}
		a.LCMDiffusionSetting.Seed = n
		return nil
	},
	"use_seed": func(a *settings.AppSettings, v string) error {
		return parseBool(v, &a.LCMDiffusionSetting.UseSeed)
	},
	"openvino": func(a *settings.AppSettings, v string) error {
		return parseBool(v, &a.LCMDiffusionSetting.UseOpenVINO)
	},
	"offline": func(a *settings.AppSettings, v string) error {
		return parseBool(v, &a.LCMDiffusionSetting.UseOfflineModel)
	},
	"safety": func(a *settings.AppSettings, v string) error {
		return parseBool(v, &a.LCMDiffusionSetting.UseSafetyChecker)
	},
	"model": func(a *settings.AppSettings, v string) error {
		a.LCMDiffusionSetting.LCMModelID = v
		return nil
	},
	"output": func(a *settings.AppSettings, v string) error {
		a.ResultsPath = v
		return nil
	},
}

func parseInt(v string, dst *int) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%q is not an integer", v)
	}
	*dst = n
	return nil
}

func parseBool(v string, dst *bool) error {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%q is not on or off", v)
	}
	return nil
}

func setKeys() []string {
	keys := make([]string, 0, len(setters))
	for k := range setters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// command runs one ':' command and reports whether the loop should stop.
func (c *Console) command(text string) bool {
	name, arg, _ := strings.Cut(strings.TrimSpace(text), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "q", "exit":
		return true
	case "help", "h", "?":
		c.help()
	case "about":
		fmt.Fprintln(c.out, core.About())
	case "show":
		c.show()
	case "reset":
		c.live.Reset()
		c.ok.Fprintln(c.out, "Settings reset to defaults")
	case "set":
		c.set(arg)
	default:
		c.fail.Fprintf(c.out, "Unknown command :%s (try :help)\n", name)
	}
	return false
}

func (c *Console) set(arg string) {
	key, value, ok := strings.Cut(arg, "=")
	key, value = strings.TrimSpace(key), strings.TrimSpace(value)
	if !ok || key == "" {
		c.fail.Fprintln(c.out, "Usage: :set key=value")
		return
	}
	setter, known := setters[key]
	if !known {
		c.fail.Fprintf(c.out, "Unknown setting %q, one of: %s\n", key, strings.Join(setKeys(), ", "))
		return
	}

	var parseErr error
	_, err := c.live.Update(func(a *settings.AppSettings) {
		parseErr = setter(a, value)
	})
	switch {
	case parseErr != nil:
		c.fail.Fprintf(c.out, "Invalid %s: %v\n", key, parseErr)
	case err != nil:
		c.fail.Fprintf(c.out, "Invalid %s: %v\n", key, err)
	default:
		c.ok.Fprintf(c.out, "%s = %s\n", key, value)
	}
}

func (c *Console) show() {
	data, err := yaml.Marshal(c.live.Get())
	if err != nil {
		c.fail.Fprintf(c.out, "Cannot show settings: %v\n", err)
		return
	}
	fmt.Fprint(c.out, string(data))
}

func (c *Console) help() {
	c.title.Fprintln(c.out, "Commands")
	fmt.Fprintln(c.out, "  <prompt>          generate images for the prompt")
	fmt.Fprintln(c.out, "  :set key=value    change a setting ("+strings.Join(setKeys(), ", ")+")")
	fmt.Fprintln(c.out, "  :show             print the current settings")
	fmt.Fprintln(c.out, "  :reset            restore every setting to its default")
	fmt.Fprintln(c.out, "  :about            show version information")
	fmt.Fprintln(c.out, "  :quit             exit")
}

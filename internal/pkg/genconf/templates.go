package genconf

import (
	"fmt"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// RenderCommand returns the shell text to emit for one CommandPair:
// foreign commands verbatim, system-originated templates re-rendered
// from their parameters so a regeneration after rotation or interface
// rename stays correct.
func RenderCommand(cp model.CommandPair) string {
	switch cp.Template {
	case model.TemplateExitNAT:
		iface := paramOr(cp.Params, "iface", "wg0")
		wan := paramOr(cp.Params, "wan", "eth0")
		if cp.Direction == model.DirPostUp {
			return fmt.Sprintf("iptables -A FORWARD -i %s -j ACCEPT; iptables -t nat -A POSTROUTING -o %s -j MASQUERADE", iface, wan)
		}
		return fmt.Sprintf("iptables -D FORWARD -i %s -j ACCEPT; iptables -t nat -D POSTROUTING -o %s -j MASQUERADE", iface, wan)

	case model.TemplateSNRForwarding:
		if cp.Direction == model.DirPostUp {
			return "sysctl -w net.ipv4.ip_forward=1"
		}
		return "sysctl -w net.ipv4.ip_forward=0"

	case model.TemplateMSSClamp:
		iface := paramOr(cp.Params, "iface", "wg0")
		if cp.Direction == model.DirPostUp {
			return fmt.Sprintf("iptables -t mangle -A FORWARD -o %s -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --clamp-mss-to-pmtu", iface)
		}
		return fmt.Sprintf("iptables -t mangle -D FORWARD -o %s -p tcp --tcp-flags SYN,RST SYN -j TCPMSS --clamp-mss-to-pmtu", iface)

	default:
		return cp.Text
	}
}

// CommandViews materializes ordered CommandPair rows into the rendered
// form the generator consumes.
func CommandViews(pairs []model.CommandPair) []CommandView {
	out := make([]CommandView, 0, len(pairs))
	for _, cp := range pairs {
		out = append(out, CommandView{Direction: cp.Direction, Text: RenderCommand(cp)})
	}
	return out
}

func paramOr(params map[string]string, key, def string) string {
	if v, ok := params[key]; ok && v != "" {
		return v
	}
	return def
}

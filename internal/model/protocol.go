package model

// Protocol numbers named in published messages.
const (
	ProtoIP     uint8 = 0
	ProtoICMP   uint8 = 1
	ProtoIGMP   uint8 = 2
	ProtoTCP    uint8 = 6
	ProtoUDP    uint8 = 17
	ProtoICMPv6 uint8 = 58
)

var protocolNames = map[uint8]string{
	ProtoIP:     "IP",
	ProtoICMP:   "ICMP",
	ProtoIGMP:   "IGMP",
	ProtoTCP:    "TCP",
	ProtoUDP:    "UDP",
	ProtoICMPv6: "ICMP6",
}

// ProtocolName returns the short label of an IP protocol number, or an empty
// string when the protocol is not one of the known ones.
func ProtocolName(proto uint8) string {
	return protocolNames[proto]
}

package main

import (
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/spf13/cobra"

	"Go2TopTalk/internal/logging"
)

// genOptions describes a synthetic capture. Flow popularity follows a Zipf
// distribution so a handful of flows dominate, as on a real link.
type genOptions struct {
	output  string
	packets int
	flows   int
	rate    int
	skew    float64
	seed    int64
}

func newGenCommand() *cobra.Command {
	var opts genOptions
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a synthetic pcap file with skewed flow sizes for replay",
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "test.pcap", "Output pcap file path")
	cmd.Flags().IntVarP(&opts.packets, "count", "c", 100000, "Number of packets to generate")
	cmd.Flags().IntVar(&opts.flows, "flows", 1000, "Number of distinct flows")
	cmd.Flags().IntVar(&opts.rate, "rate", 10000, "Packets per second of capture time")
	cmd.Flags().Float64Var(&opts.skew, "skew", 1.2, "Zipf exponent of flow popularity, must be > 1")
	cmd.Flags().Int64Var(&opts.seed, "seed", 1, "Random seed")
	return cmd
}

type genFlow struct {
	src, dst         net.IP
	srcPort, dstPort uint16
	udp              bool
}

func generate(opts genOptions) error {
	if opts.flows <= 0 || opts.rate <= 0 || opts.skew <= 1 {
		return fmt.Errorf("flows and rate must be positive and skew greater than 1")
	}
	log := logging.WithComponent("gen")

	f, err := os.Create(opts.output)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	pcapWriter := pcapgo.NewWriter(f)
	if err := pcapWriter.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return fmt.Errorf("failed to write pcap header: %w", err)
	}

	rng := rand.New(rand.NewSource(opts.seed))
	flows := make([]genFlow, opts.flows)
	for i := range flows {
		flows[i] = genFlow{
			src:     net.IP{10, byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(254) + 1)},
			dst:     net.IP{192, 168, byte(rng.Intn(256)), byte(rng.Intn(254) + 1)},
			srcPort: uint16(rng.Intn(65535-1024) + 1024),
			dstPort: []uint16{53, 80, 443, 8080}[rng.Intn(4)],
			udp:     rng.Intn(4) == 0,
		}
	}
	zipf := rand.NewZipf(rng, opts.skew, 1, uint64(opts.flows-1))
	gap := time.Second / time.Duration(opts.rate)
	ts := time.Now().Truncate(time.Second)

	log.WithField("output", opts.output).Infof("generating %d packets over %d flows", opts.packets, opts.flows)
	buf := gopacket.NewSerializeBuffer()
	serializeOpts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	for i := 0; i < opts.packets; i++ {
		fl := flows[zipf.Uint64()]
		ethLayer := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ipLayer := &layers.IPv4{SrcIP: fl.src, DstIP: fl.dst, Version: 4, TTL: 64}
		payload := gopacket.Payload(make([]byte, rng.Intn(1400)+50))

		var transport gopacket.SerializableLayer
		if fl.udp {
			ipLayer.Protocol = layers.IPProtocolUDP
			udp := &layers.UDP{SrcPort: layers.UDPPort(fl.srcPort), DstPort: layers.UDPPort(fl.dstPort)}
			if err := udp.SetNetworkLayerForChecksum(ipLayer); err != nil {
				return err
			}
			transport = udp
		} else {
			ipLayer.Protocol = layers.IPProtocolTCP
			tcp := &layers.TCP{
				SrcPort: layers.TCPPort(fl.srcPort),
				DstPort: layers.TCPPort(fl.dstPort),
				Seq:     rng.Uint32(),
				ACK:     true,
				Window:  14600,
			}
			if err := tcp.SetNetworkLayerForChecksum(ipLayer); err != nil {
				return err
			}
			transport = tcp
		}

		if err := gopacket.SerializeLayers(buf, serializeOpts, ethLayer, ipLayer, transport, payload); err != nil {
			return fmt.Errorf("failed to serialize layers: %w", err)
		}
		ci := gopacket.CaptureInfo{
			Timestamp:     ts,
			CaptureLength: len(buf.Bytes()),
			Length:        len(buf.Bytes()),
		}
		if err := pcapWriter.WritePacket(ci, buf.Bytes()); err != nil {
			return fmt.Errorf("failed to write packet: %w", err)
		}
		ts = ts.Add(gap)

		if (i+1)%100000 == 0 {
			log.Infof("generated %d packets", i+1)
		}
	}

	log.Infof("successfully generated %d packets into %s", opts.packets, opts.output)
	return nil
}

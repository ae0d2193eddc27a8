package capture

import (
	"sync"

	"github.com/google/gopacket"
	"github.com/sirupsen/logrus"

	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/model"
)

// Stream decodes packets from a gopacket source and delivers them as flow
// packets. It implements model.PacketSource.
type Stream struct {
	out       chan model.FlowPacket
	done      chan struct{}
	release   func()
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *logrus.Entry
}

// NewStream starts pumping src. release is called once on Close to free the
// underlying handle, which must make src's channel close.
func NewStream(src *gopacket.PacketSource, buffer int, release func()) *Stream {
	s := &Stream{
		out:     make(chan model.FlowPacket, buffer),
		done:    make(chan struct{}),
		release: release,
		log:     logging.WithComponent("capture"),
	}
	s.wg.Add(1)
	go s.pump(src.Packets())
	return s
}

// Packets returns the decoded packet channel. It is closed when the source
// is exhausted or the stream is closed.
func (s *Stream) Packets() <-chan model.FlowPacket {
	return s.out
}

// Close stops the pump and releases the handle.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.release()
		s.wg.Wait()
	})
	return nil
}

func (s *Stream) pump(packets <-chan gopacket.Packet) {
	defer s.wg.Done()
	defer close(s.out)

	var parsed, skipped uint64
	defer func() {
		s.log.WithFields(logrus.Fields{"parsed": parsed, "skipped": skipped}).Info("capture stream finished")
	}()

	for {
		select {
		case <-s.done:
			for range packets {
			}
			return
		case packet, ok := <-packets:
			if !ok {
				return
			}
			pkt, err := ParsePacket(packet)
			if err != nil {
				skipped++
				continue
			}
			select {
			case s.out <- pkt:
				parsed++
			case <-s.done:
				for range packets {
				}
				return
			}
		}
	}
}

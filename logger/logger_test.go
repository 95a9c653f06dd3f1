package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/rs/zerolog"
)

func TestLogger(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Logger Suite")
}

var _ = Describe("Logger", func() {
	Context("Creation", func() {
		When("No writers are configured", func() {
			It("fails", func() {
				_, err := New(&Config{})
				Expect(err).To(HaveOccurred())
			})
		})

		When("Logging to a file", func() {
			It("succeeds", func() {
				dir, err := os.MkdirTemp("", "bzsignalr")
				Expect(err).ToNot(HaveOccurred())
				DeferCleanup(os.RemoveAll, dir)

				path := filepath.Join(dir, "bzsignalr.log")
				logger, err := New(&Config{FilePath: path})
				Expect(err).ToNot(HaveOccurred())
				logger.Info("hello")
				Expect(path).To(BeAnExistingFile())
			})
		})
	})

	Context("Writing", func() {
		var buffer *bytes.Buffer
		var logger *Logger

		BeforeEach(func() {
			buffer = &bytes.Buffer{}
			logger = MockLogger(buffer)
		})

		It("includes component context on sub-loggers", func() {
			logger.GetComponentLogger("Polling").Infof("poll %d sent", 3)
			Expect(buffer.String()).To(ContainSubstring("poll 3 sent"))
			Expect(buffer.String()).To(ContainSubstring("Polling"))
		})

		It("includes the connection id on connection loggers", func() {
			logger.GetConnectionLogger("abc-123").Info("connected")
			Expect(buffer.String()).To(ContainSubstring("abc-123"))
		})

		It("writes errors", func() {
			logger.Error(fmt.Errorf("kaboom"))
			Expect(buffer.String()).To(ContainSubstring("kaboom"))
		})

		It("respects the configured level", func() {
			quiet, err := New(&Config{ConsoleWriters: []io.Writer{buffer}, Level: zerolog.InfoLevel})
			Expect(err).ToNot(HaveOccurred())

			quiet.Debug("should not appear")
			quiet.Info("should appear")
			Expect(buffer.String()).ToNot(ContainSubstring("should not appear"))
			Expect(buffer.String()).To(ContainSubstring("should appear"))
		})
	})

	Context("Levels", func() {
		It("parses level names regardless of case", func() {
			level, err := ToLogLevel(" INFO ")
			Expect(err).ToNot(HaveOccurred())
			Expect(level).To(Equal(zerolog.InfoLevel))
		})

		It("rejects unknown levels", func() {
			_, err := ToLogLevel("loud")
			Expect(err).To(HaveOccurred())
		})
	})
})

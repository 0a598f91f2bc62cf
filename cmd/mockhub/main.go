package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/mlsorensen/gohub"
	"github.com/mlsorensen/gohub/pkg/lwp"
	"github.com/mlsorensen/gohub/pkg/transport/mock"
)

const motorPort = 0x00

func main() {
	log.Println("GoHub mock demo starting...")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, time.Second); err != nil {
		log.Fatalf("Fatal: %v", err)
	}
	log.Println("Application finished gracefully.")
}

// run drives a simulated hub until it switches itself off or ctx ends.
// pause separates the demo steps.
func run(ctx context.Context, pause time.Duration) error {
	// The simulated hub answers like a Technic hub with one large motor on port A.
	// A real program would use ble.Dial or serial.Open instead.
	sim := mock.New("MOCK-Technic-Hub", mock.WithDevice(motorPort, lwp.IOTypeTechnicLargeMotor))

	hub, err := gohub.Connect(ctx, sim)
	if err != nil {
		return fmt.Errorf("could not connect to hub: %w", err)
	}
	defer func() { _ = hub.Disconnect() }()
	log.Printf("Connected. Firmware %s", hub.Firmware())

	for _, e := range hub.AttachedIO() {
		log.Printf("Port 0x%02X: %s", e.PortID, e.IOType)
	}

	positions, err := hub.Motors().PositionChanges(ctx, motorPort, 5)
	if err != nil {
		return fmt.Errorf("could not subscribe to motor position: %w", err)
	}

	// Drive the motor in the background while this goroutine prints
	// position updates.
	go func() {
		motors := hub.Motors()

		log.Println("--> Turning 90 degrees...")
		state, err := motors.StartSpeedForDegrees(ctx, motorPort, 90, 50, 100, lwp.EndStateBrake)
		if err != nil {
			log.Printf("Error turning motor: %v", err)
		} else {
			log.Printf("--> Command %s", state)
		}
		// The simulator does not move the shaft by itself.
		sim.Turn(motorPort, 90)

		time.Sleep(pause)

		log.Println("--> Setting the light to green...")
		if _, err := hub.Light().SetColorIndex(ctx, gohub.ColorGreen); err != nil {
			log.Printf("Error setting light: %v", err)
		}

		log.Println("--> Reading battery level...")
		level, err := hub.Properties().BatteryLevel(ctx)
		if err != nil {
			log.Printf("Error reading battery: %v", err)
		} else {
			log.Printf("--> Battery level is %d%%", level)
		}

		time.Sleep(pause)
		log.Println("--> Switching the hub off...")
		if err := hub.Actions().SwitchOff(ctx); err != nil {
			log.Printf("Error switching off: %v", err)
		}
	}()

	// The channel closes when the hub switches off or ctx ends.
	for v := range positions {
		log.Printf("Position: %.0f°", v.Value)
	}

	select {
	case <-hub.Done():
		log.Printf("Connection ended: %v", hub.Err())
	case <-ctx.Done():
	}
	return nil
}

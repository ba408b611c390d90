package tele

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/flowtele/helpers"
	"github.com/temoto/flowtele/internal/command"
	"github.com/temoto/flowtele/log2"
)

const (
	defaultTopicPrefix    = "flow"
	defaultPublishTimeout = 500 * time.Millisecond
	subscribeTimeout      = 5 * time.Second
	disconnectQuiesceMs   = 250
)

var (
	payloadOnline  = []byte("online")
	payloadOffline = []byte("offline")
)

// subset of mqtt.Client used after connect
type mqttClient interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Topics struct {
	Telemetry  string
	State      string
	Command    string
	CommandAll string
}

func MakeTopics(prefix, deviceID string) Topics {
	if prefix == "" {
		prefix = defaultTopicPrefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return Topics{
		Telemetry:  fmt.Sprintf("%s/%s/telemetry", prefix, deviceID),
		State:      fmt.Sprintf("%s/%s/state", prefix, deviceID),
		Command:    fmt.Sprintf("%s/%s/cmd", prefix, deviceID),
		CommandAll: fmt.Sprintf("%s/all/cmd", prefix),
	}
}

type transportMqtt struct {
	log       *log2.Log
	onCommand CommandCallback
	m         mqttClient
	topics    Topics
	timeout   time.Duration
}

var _ Transporter = &transportMqtt{}

// mqttLogger adapts log2 to paho logger interface.
type mqttLogger struct {
	log   *log2.Log
	level log2.Level
}

func (l mqttLogger) Println(v ...interface{}) {
	l.log.Log(l.level, "mqtt: "+strings.TrimSpace(fmt.Sprintln(v...)))
}
func (l mqttLogger) Printf(format string, v ...interface{}) {
	l.log.Logf(l.level, "mqtt: "+format, v...)
}

// NewMqtt starts background connect with retries and returns immediately.
func NewMqtt(config Config, log *log2.Log, onCommand CommandCallback) (Transporter, error) {
	if config.Broker == "" {
		return nil, errors.NotValidf("tele mqtt_broker=empty")
	}
	if config.DeviceID == "" {
		return nil, errors.NotValidf("tele device id=empty")
	}
	mqtt.ERROR = mqttLogger{log, log2.LError}
	mqtt.CRITICAL = mqttLogger{log, log2.LError}
	mqtt.WARN = mqttLogger{log, log2.LWarn}
	if config.LogDebug {
		mqtt.DEBUG = mqttLogger{log, log2.LDebug}
	}

	self := &transportMqtt{
		log:       log,
		onCommand: onCommand,
		topics:    MakeTopics(config.TopicPrefix, config.DeviceID),
		timeout:   config.PublishTimeout,
	}
	if self.timeout == 0 {
		self.timeout = defaultPublishTimeout
	}
	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = 60 * time.Second
	}
	clientID := "flowtele-" + config.DeviceID
	credFun := func() (string, string) {
		return config.DeviceID, config.Password
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetBinaryWill(self.topics.State, payloadOffline, 1, true).
		SetCleanSession(false).
		SetClientID(clientID).
		SetCredentialsProvider(credFun).
		SetDefaultPublishHandler(self.messageHandler).
		SetKeepAlive(keepAlive).
		SetPingTimeout(helpers.IntSecondDefault(int(keepAlive/time.Second)/2, 30*time.Second)).
		SetOrderMatters(false).
		SetResumeSubs(true).
		SetConnectRetryInterval(keepAlive / 2).
		SetOnConnectHandler(self.onConnectHandler).
		SetConnectionLostHandler(self.connectLostHandler).
		SetConnectRetry(true).
		SetAutoReconnect(true)
	if config.StorePath != "" {
		mopt.SetStore(mqtt.NewFileStore(config.StorePath))
	}
	client := mqtt.NewClient(mopt)
	self.m = client
	if token := client.Connect(); token.Error() != nil {
		// with ConnectRetry paho keeps trying in background
		self.log.Errorf("tele mqtt connect err=%v", token.Error())
	}
	return self, nil
}

func (self *transportMqtt) Ready() bool { return self.m.IsConnectionOpen() }

func (self *transportMqtt) SendTelemetry(payload []byte) bool {
	return self.publish(self.topics.Telemetry, false, payload)
}

func (self *transportMqtt) SendState(payload []byte) bool {
	return self.publish(self.topics.State, true, payload)
}

func (self *transportMqtt) Close() {
	if self.m.IsConnectionOpen() {
		self.publish(self.topics.State, true, payloadOffline)
	}
	self.m.Disconnect(disconnectQuiesceMs)
	self.log.Infof("tele mqtt closed")
}

// publish is opportunistic: not connected means fail now, no waiting for reconnect.
func (self *transportMqtt) publish(topic string, retained bool, payload []byte) bool {
	if !self.m.IsConnectionOpen() {
		return false
	}
	token := self.m.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(self.timeout) {
		self.log.Debugf("tele mqtt publish topic=%s timeout=%s", topic, self.timeout)
		return false
	}
	if err := token.Error(); err != nil {
		self.log.Errorf("tele mqtt publish topic=%s err=%v", topic, err)
		return false
	}
	return true
}

func (self *transportMqtt) messageHandler(c mqtt.Client, msg mqtt.Message) {
	channel := command.ChannelDevice
	switch msg.Topic() {
	case self.topics.Command:
	case self.topics.CommandAll:
		channel = command.ChannelBroadcast
	default:
		self.log.Debugf("tele mqtt ignore topic=%s", msg.Topic())
		return
	}
	payload := msg.Payload()
	self.log.Debugf("tele mqtt command channel=%s payload=%q", channel, payload)
	if self.onCommand != nil {
		self.onCommand(channel, payload)
	}
}

func (self *transportMqtt) connectLostHandler(c mqtt.Client, err error) {
	self.log.Infof("tele mqtt connection lost err=%v", err)
}

func (self *transportMqtt) onConnectHandler(c mqtt.Client) {
	self.log.Infof("tele mqtt connected")
	subs := map[string]byte{self.topics.Command: 1, self.topics.CommandAll: 1}
	token := c.SubscribeMultiple(subs, nil)
	if !token.WaitTimeout(subscribeTimeout) || token.Error() != nil {
		self.log.Errorf("tele mqtt subscribe err=%v", token.Error())
		return
	}
	c.Publish(self.topics.State, 1, true, payloadOnline)
}

package main

import (
	"therapyledger/chaincode/contract"
	"therapyledger/chaincode/model"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"
)

func main() {
	registry := &contract.TherapistRegistryContract{}
	registry.Name = model.RegistryContractName
	factory := &contract.BookingFactoryContract{}
	factory.Name = model.FactoryContractName
	booking := &contract.BookingRecordContract{}
	booking.Name = model.BookingContractName

	cc, err := contractapi.NewChaincode(registry, factory, booking)
	if err != nil {
		panic("Error creating therapy ledger chaincode: " + err.Error())
	}
	cc.DefaultContract = model.RegistryContractName
	if err := cc.Start(); err != nil {
		panic("Error starting chaincode: " + err.Error())
	}
}
